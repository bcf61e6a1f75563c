package tunnelstate

// ConnectionDataOf returns the connection payload of Connecting, Connected,
// Reconnecting, NegotiatingEphemeralPeer and Disconnecting. The returned
// value is a copy.
func ConnectionDataOf(s State) (ConnectionData, bool) {
	return s.connectionData()
}

// BlockedDataOf returns the payload of an Error state.
func BlockedDataOf(s State) (BlockingData, bool) {
	e, ok := s.(Error)
	if !ok {
		return BlockingData{}, false
	}
	return e.Data.clone(), true
}

// AssociatedDataOf returns a view over whichever payload s carries, the
// connection payload first and the blocking payload otherwise. The view is
// backed by a copy; setters on it never reach s.
func AssociatedDataOf(s State) (AssociatedData, bool) {
	if d, ok := s.connectionData(); ok {
		return connectionDataRef{d: &d}, true
	}
	if b, ok := BlockedDataOf(s); ok {
		return blockingDataRef{b: &b}, true
	}
	return nil, false
}

// KeyPolicyOf returns the key policy of any payload-bearing state.
func KeyPolicyOf(s State) (KeyPolicy, bool) {
	data, ok := AssociatedDataOf(s)
	if !ok {
		return KeyPolicy{}, false
	}
	return data.KeyPolicy(), true
}

// ReplacingConnectionData returns s with its connection payload swapped for
// data, keeping the variant. NegotiatingEphemeralPeer keeps its private key.
// Initial, Disconnected and Error come back unchanged.
func ReplacingConnectionData(s State, data ConnectionData) State {
	return s.withConnectionData(data)
}

// MutateAssociatedData applies modifier to whichever payload s carries and
// returns a state of the same variant holding the result. s itself is never
// modified. Initial and Disconnected come back unchanged and modifier is not
// called.
func MutateAssociatedData(s State, modifier func(AssociatedData)) State {
	return s.mutateAssociatedData(modifier)
}

// MutateKeyPolicy narrows MutateAssociatedData to the key policy.
func MutateKeyPolicy(s State, modifier func(*KeyPolicy)) State {
	return s.mutateAssociatedData(func(data AssociatedData) {
		policy := data.KeyPolicy()
		modifier(&policy)
		data.SetKeyPolicy(policy)
	})
}

// SetKeyPolicy returns s with its key policy replaced by policy.
func SetKeyPolicy(s State, policy KeyPolicy) State {
	return MutateKeyPolicy(s, func(p *KeyPolicy) { *p = policy })
}

// Clone returns a copy of s that shares no pointers or slices with it.
func Clone(s State) State {
	if s == nil {
		return nil
	}
	return s.mutateAssociatedData(func(AssociatedData) {})
}
