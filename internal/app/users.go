package app

import (
	"log"
	"sort"
	"strings"
	"time"

	"github.com/dairyisscary/syn/internal/canvas"
	"github.com/dairyisscary/syn/internal/presence"
	"github.com/dairyisscary/syn/internal/reactive"
	"github.com/dairyisscary/syn/pkg/types"
)

// Identity is a logged-in participant.
type Identity struct {
	Name     string `json:"name"`
	JoinedOn int64  `json:"joinedOn"`
}

type RemoteUser struct {
	Client types.ClientID `json:"client"`
	Identity
	Cursor *canvas.Position `json:"cursor,omitempty"`
	// Color is the cursor color, picked by position in the remote list.
	Color canvas.Color `json:"color"`
}

// Users exposes the presence channel as the local identity and the list of
// remote participants.
type Users struct {
	ch     *presence.Channel
	now    func() time.Time
	local  *reactive.Value[*Identity]
	remote *reactive.Value[[]RemoteUser]
}

func NewUsers(s *reactive.Scope, ch *presence.Channel, now func() time.Time) *Users {
	u := &Users{ch: ch, now: now}
	u.local = reactive.NewValue(u.localIdentity())
	u.remote = reactive.NewValue(u.remoteUsers())
	s.OnCleanup(ch.Observe(func(c presence.Change) {
		if c.Origin == presence.Local {
			u.local.Set(u.localIdentity())
		} else {
			u.remote.Set(u.remoteUsers())
		}
	}))
	return u
}

// Local is nil until Login.
func (u *Users) Local() reactive.Observable[*Identity] { return u.local }

// Remote lists the other logged-in participants, oldest first.
func (u *Users) Remote() reactive.Observable[[]RemoteUser] { return u.remote }

// Login publishes name with the current time as the join time. Blank names
// are ignored.
func (u *Users) Login(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	st := u.ch.LocalState()
	if st == nil {
		st = &presence.State{}
	}
	st.Name = name
	st.JoinedOn = u.now().UnixMilli()
	u.ch.SetLocalState(st)
}

func (u *Users) MoveCursor(pos canvas.Position) {
	if err := u.ch.SetLocalField(presence.FieldCursor, pos); err != nil {
		log.Printf("presence: set cursor: %v", err)
	}
}

func (u *Users) ClearCursor() {
	if err := u.ch.SetLocalField(presence.FieldCursor, nil); err != nil {
		log.Printf("presence: clear cursor: %v", err)
	}
}

func (u *Users) localIdentity() *Identity {
	st := u.ch.LocalState()
	if st == nil || st.Name == "" {
		return nil
	}
	return &Identity{Name: st.Name, JoinedOn: st.JoinedOn}
}

func (u *Users) remoteUsers() []RemoteUser {
	out := make([]RemoteUser, 0)
	for id, st := range u.ch.Remote() {
		if st.Name == "" {
			continue
		}
		out = append(out, RemoteUser{
			Client:   id,
			Identity: Identity{Name: st.Name, JoinedOn: st.JoinedOn},
			Cursor:   st.Cursor,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedOn != out[j].JoinedOn {
			return out[i].JoinedOn < out[j].JoinedOn
		}
		return out[i].Client < out[j].Client
	})
	for i := range out {
		out[i].Color = canvas.ColorFromIndex(i)
	}
	return out
}
