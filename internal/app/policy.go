package app

import (
	"github.com/abhinavnt/codefolio-sub001/internal/core"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	// DisconnectMember closes the member's transport; the registry then
	// removes it through the regular transport-close path.
	DisconnectMember
)

// Policy decides what happens to a member whose signaling queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, member core.MemberSession) BackpressureAction
}

// SimplePolicy disconnects slow members: a member that missed a membership
// frame has a stale view of the mesh and has to rejoin.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, core.MemberSession) BackpressureAction {
	return DisconnectMember
}
