package relay

import (
	"fmt"
	"strings"
)

const (
	controllerPrefix = "controller:"
	receiverPrefix   = "receiver:"

	// unknownRoleName is used as the addressee of replies to peers without a role
	unknownRoleName = "unknown_role"
)

// Kind is the closed set of roles a peer can identify as.
type Kind int

const (
	KindUnknown Kind = iota
	KindController
	KindReceiver
)

func (k Kind) String() string {
	switch k {
	case KindController:
		return "controller"
	case KindReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// Role is a peer identity: a kind plus an opaque caller-supplied name.
// The zero value is the Unknown role.
type Role struct {
	kind Kind
	name string
}

// Controller returns the controller role with the given name.
func Controller(name string) Role { return Role{kind: KindController, name: name} }

// Receiver returns the receiver role with the given name.
func Receiver(name string) Role { return Role{kind: KindReceiver, name: name} }

// Unknown returns the role of a peer whose handshake was not recognized.
func Unknown() Role { return Role{} }

// Kind reports which variant the role is.
func (r Role) Kind() Kind { return r.kind }

// Name returns the role name, or an error for Unknown.
func (r Role) Name() (string, error) {
	switch r.kind {
	case KindController, KindReceiver:
		return r.name, nil
	default:
		return "", fmt.Errorf("%w: role has no name", ErrHandshakeUnrecognized)
	}
}

// NameOrUnknown is Name with a placeholder for Unknown, used to address error replies.
func (r Role) NameOrUnknown() string {
	name, err := r.Name()
	if err != nil {
		return unknownRoleName
	}
	return name
}

// Equal compares kind and name. Unknown never equals anything, itself included.
func (r Role) Equal(other Role) bool {
	if r.kind == KindUnknown || other.kind == KindUnknown {
		return false
	}
	return r.kind == other.kind && r.name == other.name
}

// String renders the role the way it appears in the handshake, e.g. "controller:foo".
func (r Role) String() string {
	switch r.kind {
	case KindController:
		return controllerPrefix + r.name
	case KindReceiver:
		return receiverPrefix + r.name
	default:
		return "unknown"
	}
}

// NewPacket builds a packet addressed back to this role with a fresh id.
func (r Role) NewPacket(body string) Packet {
	return NewPacket([]string{r.NameOrUnknown()}, body)
}

// NewPacketWithID builds a packet addressed back to this role that echoes id.
func (r Role) NewPacketWithID(body, id string) Packet {
	return NewPacketWithID([]string{r.NameOrUnknown()}, body, id)
}

// ParseHandshake resolves the first string a peer sends into its role.
// The remainder after the prefix is taken verbatim as the name.
func ParseHandshake(msg string) Role {
	if name, ok := strings.CutPrefix(msg, controllerPrefix); ok {
		return Controller(name)
	}
	if name, ok := strings.CutPrefix(msg, receiverPrefix); ok {
		return Receiver(name)
	}
	return Unknown()
}
