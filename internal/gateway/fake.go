package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Overwrite struct {
	Allow int64
	Deny  int64
}

type Timeout struct {
	GuildID  string
	UserID   string
	Duration time.Duration
	Reason   string
}

type SentMessage struct {
	Ref  MessageRef
	Text string
}

// Fake is an in-memory Gateway that records every call. Fail* maps make the
// matching call return the given error.
type Fake struct {
	mu sync.Mutex

	Channels   map[string][]Channel
	Overwrites map[string]Overwrite
	Members    map[string]Member

	FailDelete     error
	FailTimeout    error
	FailKick       error
	FailDM         map[string]error
	FailPermission map[string]error
	FailMember     error

	Deleted      []MessageRef
	Timeouts     []Timeout
	Kicks        []string
	Bans         []string
	DMs          map[string][]string
	ChannelSends []SentMessage
	Edits        []string
	Removed      []string

	nextID int
}

func NewFake() *Fake {
	return &Fake{
		Channels:       make(map[string][]Channel),
		Overwrites:     make(map[string]Overwrite),
		Members:        make(map[string]Member),
		FailDM:         make(map[string]error),
		FailPermission: make(map[string]error),
		DMs:            make(map[string][]string),
	}
}

func memberKey(guildID, userID string) string {
	return guildID + ":" + userID
}

func (f *Fake) SetMember(m Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Members[memberKey(m.GuildID, m.UserID)] = m
}

func (f *Fake) Overwrite(channelID string) (Overwrite, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ow, ok := f.Overwrites[channelID]
	return ow, ok
}

func (f *Fake) DMCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.DMs[userID])
}

func (f *Fake) DeleteMessage(ctx context.Context, ref MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDelete != nil {
		return f.FailDelete
	}
	f.Deleted = append(f.Deleted, ref)
	return nil
}

func (f *Fake) TimeoutMember(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTimeout != nil {
		return f.FailTimeout
	}
	f.Timeouts = append(f.Timeouts, Timeout{GuildID: guildID, UserID: userID, Duration: duration, Reason: reason})
	return nil
}

func (f *Fake) KickMember(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailKick != nil {
		return f.FailKick
	}
	f.Kicks = append(f.Kicks, userID)
	return nil
}

func (f *Fake) BanMember(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bans = append(f.Bans, userID)
	return nil
}

func (f *Fake) SendDirectMessage(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailDM[userID]; err != nil {
		return err
	}
	f.DMs[userID] = append(f.DMs[userID], text)
	return nil
}

func (f *Fake) SendChannelMessage(ctx context.Context, channelID, text string) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("m%d", f.nextID)}
	f.ChannelSends = append(f.ChannelSends, SentMessage{Ref: ref, Text: text})
	return ref, nil
}

func (f *Fake) EditChannelPermission(ctx context.Context, channelID, roleID string, allow, deny int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailPermission[channelID]; err != nil {
		return err
	}
	f.Overwrites[channelID] = Overwrite{Allow: allow, Deny: deny}
	f.Edits = append(f.Edits, channelID)
	return nil
}

func (f *Fake) DeleteChannelPermission(ctx context.Context, channelID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailPermission[channelID]; err != nil {
		return err
	}
	delete(f.Overwrites, channelID)
	f.Removed = append(f.Removed, channelID)
	return nil
}

func (f *Fake) GetChannelPermission(ctx context.Context, channelID, roleID string) (int64, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ow, ok := f.Overwrites[channelID]
	return ow.Allow, ow.Deny, ok, nil
}

func (f *Fake) ListTextChannels(ctx context.Context, guildID string) ([]Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Channel(nil), f.Channels[guildID]...), nil
}

func (f *Fake) GetMember(ctx context.Context, guildID, userID string) (Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailMember != nil {
		return Member{}, f.FailMember
	}
	m, ok := f.Members[memberKey(guildID, userID)]
	if !ok {
		return Member{}, ErrNotFound
	}
	return m, nil
}
