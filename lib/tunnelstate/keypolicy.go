package tunnelstate

import (
	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// RotationHandle identifies a pending key rotation confirmation or timeout.
// It is opaque; the zero value identifies nothing.
type RotationHandle struct {
	id uuid.UUID
}

// NewRotationHandle returns a fresh, unique handle.
func NewRotationHandle() RotationHandle {
	return RotationHandle{id: uuid.New()}
}

// IsZero reports whether h was never issued.
func (h RotationHandle) IsZero() bool {
	return h.id == uuid.Nil
}

// String returns the handle in its canonical textual form.
func (h RotationHandle) String() string {
	return h.id.String()
}

// ParseRotationHandle parses a handle previously rendered with String.
func ParseRotationHandle(s string) (RotationHandle, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RotationHandle{}, err
	}
	return RotationHandle{id: id}, nil
}

// KeyPolicy selects which key carries data-plane traffic while a key
// rotation is in flight. The zero value is UseCurrent.
type KeyPolicy struct {
	usePrior bool
	priorKey wgtypes.Key
	handle   RotationHandle
}

// UseCurrent returns the policy that sends traffic with the negotiated key.
func UseCurrent() KeyPolicy {
	return KeyPolicy{}
}

// UsePrior returns the policy that keeps traffic on priorKey until the
// rotation identified by handle is confirmed or times out.
func UsePrior(priorKey wgtypes.Key, handle RotationHandle) KeyPolicy {
	return KeyPolicy{usePrior: true, priorKey: priorKey, handle: handle}
}

// IsUsePrior reports whether traffic stays on the prior key.
func (p KeyPolicy) IsUsePrior() bool {
	return p.usePrior
}

// Prior returns the prior key and the pending rotation handle. ok is false
// for UseCurrent.
func (p KeyPolicy) Prior() (priorKey wgtypes.Key, handle RotationHandle, ok bool) {
	if !p.usePrior {
		return wgtypes.Key{}, RotationHandle{}, false
	}
	return p.priorKey, p.handle, true
}

// Equal compares two policies. The rotation handle is a scheduling
// identifier and does not take part in equality.
func (p KeyPolicy) Equal(other KeyPolicy) bool {
	if p.usePrior != other.usePrior {
		return false
	}
	if !p.usePrior {
		return true
	}
	return p.priorKey == other.priorKey
}

// String returns "current" or "prior".
func (p KeyPolicy) String() string {
	if p.usePrior {
		return "prior"
	}
	return "current"
}
