package types

// UnknownWallet is the sentinel the remote node and older clients use for a
// wallet address that was never resolved. It never compares equal.
const UnknownWallet = "auto-generated"

// walletAddressLen is the length of a wallet address issued by the node.
const walletAddressLen = 43

// ValidWallet reports whether addr is usable as a sender identity.
func ValidWallet(addr string) bool {
	return addr != "" && addr != UnknownWallet && len(addr) == walletAddressLen
}

// Identity is the sender identity of the current session.
type Identity struct {
	Username      string
	WalletAddress string
}

// IsOwn resolves whether m was sent by self. Rules apply in order and the
// first that can decide wins:
//
//  1. both wallet addresses valid: compare them
//  2. the message came from this session's push path
//  3. compare display names
func IsOwn(m *Message, self Identity) bool {
	if ValidWallet(m.WalletAddress) && ValidWallet(self.WalletAddress) {
		return m.WalletAddress == self.WalletAddress
	}
	if m.Source == SourceDirectPush {
		return true
	}
	return m.Username != "" && m.Username == self.Username
}

// SameSender reports whether two messages carry the same sender identity,
// preferring wallets when both are comparable.
func SameSender(a, b *Message) bool {
	if ValidWallet(a.WalletAddress) && ValidWallet(b.WalletAddress) {
		return a.WalletAddress == b.WalletAddress
	}
	return a.Username == b.Username
}
