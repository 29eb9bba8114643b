package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropMessage
	KickPeer
)

// Policy decides what happens to a peer whose outbound queue is full.
type Policy interface {
	OnBackPressure(p Peer) BackpressureAction
}

// SimplePolicy kicks slow peers. Signaling is tiny, a full queue means the peer is gone.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(Peer) BackpressureAction { return KickPeer }

// DropPolicy drops the message and keeps the peer.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(Peer) BackpressureAction { return DropMessage }

func PolicyByName(name string) Policy {
	if name == "drop" {
		return DropPolicy{}
	}
	return SimplePolicy{}
}
