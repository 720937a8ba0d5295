//go:build softhsm

// Package hsm computes webhook MACs with a secret that never leaves a PKCS#11 token.
package hsm

import (
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// MAC signs with CKM_SHA256_HMAC using generic secret keys looked up by label.
// Enabled with the softhsm build tag so default builds do not need a PKCS#11 module.
type MAC struct {
	libPath string
	slotID  uint
	pin     string

	mu   sync.Mutex
	p11  *pkcs11.Ctx
	sess pkcs11.SessionHandle
	keys map[string]pkcs11.ObjectHandle
}

func NewMAC(libPath string, slotID uint, pin string) *MAC {
	return &MAC{libPath: libPath, slotID: slotID, pin: pin, keys: map[string]pkcs11.ObjectHandle{}}
}

func (m *MAC) Open() error {
	m.p11 = pkcs11.New(m.libPath)
	if m.p11 == nil {
		return fmt.Errorf("load pkcs11 lib %s failed", m.libPath)
	}
	if err := m.p11.Initialize(); err != nil {
		return fmt.Errorf("initialize pkcs11: %w", err)
	}
	sess, err := m.p11.OpenSession(m.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		_ = m.p11.Finalize()
		return fmt.Errorf("open session on slot %d: %w", m.slotID, err)
	}
	m.sess = sess
	if err := m.p11.Login(m.sess, pkcs11.CKU_USER, m.pin); err != nil {
		_ = m.p11.CloseSession(m.sess)
		_ = m.p11.Finalize()
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// Close logs out and releases the module. Safe to call on an unopened MAC.
func (m *MAC) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.p11 == nil {
		return nil
	}
	if m.sess != 0 {
		_ = m.p11.Logout(m.sess)
		_ = m.p11.CloseSession(m.sess)
	}
	_ = m.p11.Finalize()
	m.p11.Destroy()
	m.p11 = nil
	return nil
}

// Sum computes HMAC-SHA256 of payload with the token key labelled label.
// It has the shape of webhook.MACFunc.
func (m *MAC) Sum(label string, payload []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.p11 == nil {
		return nil, fmt.Errorf("pkcs11 session is not open")
	}

	key, err := m.findKey(label)
	if err != nil {
		return nil, err
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_SHA256_HMAC, nil)}
	if err := m.p11.SignInit(m.sess, mech, key); err != nil {
		return nil, fmt.Errorf("sign init: %w", err)
	}
	sum, err := m.p11.Sign(m.sess, payload)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sum, nil
}

func (m *MAC) findKey(label string) (pkcs11.ObjectHandle, error) {
	if h, ok := m.keys[label]; ok {
		return h, nil
	}
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_GENERIC_SECRET),
	}
	if err := m.p11.FindObjectsInit(m.sess, template); err != nil {
		return 0, err
	}
	objs, _, err := m.p11.FindObjects(m.sess, 1)
	_ = m.p11.FindObjectsFinal(m.sess)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("webhook key not found by label=%s", label)
	}
	m.keys[label] = objs[0]
	return objs[0], nil
}
