// Package notify tells guardians when a student enters or leaves. Delivery
// is best effort: nothing here can fail or slow down a gate decision.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

// ErrNoRecipient means the identity has no contact for a channel.
var ErrNoRecipient = errors.New("no recipient")

// Event is one guardian notification.
type Event struct {
	ID            string          `json:"id"`
	StudentNo     string          `json:"student_no"`
	FullName      string          `json:"full_name"`
	Direction     types.Direction `json:"direction"`
	At            time.Time       `json:"at"`
	GuardianEmail string          `json:"guardian_email,omitempty"`
	GuardianPhone string          `json:"guardian_phone,omitempty"`
	Message       string          `json:"message"`
}

func NewEvent(id types.Identity, dir types.Direction, at time.Time) Event {
	ev := Event{
		ID:            uuid.NewString(),
		StudentNo:     id.StudentNo,
		FullName:      id.DisplayName(),
		Direction:     dir,
		At:            at,
		GuardianEmail: strings.TrimSpace(id.GuardianEmail),
		GuardianPhone: NormalizePhone(id.GuardianPhone),
	}
	ev.Message = Body(ev)
	return ev
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// NormalizePhone turns a local mobile number into E.164 with the +63
// country code. Numbers that already carry a "+" are kept.
func NormalizePhone(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || strings.HasPrefix(s, "+") {
		return s
	}
	return "+63" + strings.TrimLeft(s, "0")
}

func verb(dir types.Direction) string {
	if dir == types.DirectionExit {
		return "exited"
	}
	return "entered"
}

// Subject is the e-mail subject line.
func Subject(e Event) string {
	if e.Direction == types.DirectionExit {
		return e.FullName + " Just Exited"
	}
	return e.FullName + " Just Entered"
}

// Body is the message text shared by every channel.
func Body(e Event) string {
	return fmt.Sprintf("Your child %s has %s the campus.\nTime: %s",
		e.FullName, verb(e.Direction), e.At.Format("Monday, January 02, 2006 03:04 PM"))
}
