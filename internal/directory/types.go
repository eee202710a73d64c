package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TelegramClass is the directory's message class. Recruitment telegrams are
// paced far more conservatively than standard ones.
type TelegramClass int

const (
	ClassStandard TelegramClass = iota
	ClassRecruitment
)

func (c TelegramClass) String() string {
	if c == ClassRecruitment {
		return "recruitment"
	}
	return "standard"
}

// Credentials identify the sending client to the telegram endpoint.
type Credentials struct {
	ClientKey string
}

// Telegram is a prepared message template registered with the directory.
type Telegram struct {
	ID        string
	SecretKey string
	Class     TelegramClass
}

// Event is one world happening. Text encodes the acting nation between
// "@@" markers; callers extract it themselves.
type Event struct {
	ID   uint64
	At   time.Time
	Text string
}

// Client is the full directory surface consumed by evaluation and dispatch.
// Each read takes a fresh flag that bypasses the client's cache.
type Client interface {
	RegionNations(ctx context.Context, region string, fresh bool) ([]string, error)
	RegionsByTag(ctx context.Context, tags []string, fresh bool) ([]string, error)
	WAMembers(ctx context.Context, fresh bool) ([]string, error)
	WADelegates(ctx context.Context, fresh bool) ([]string, error)
	Happenings(ctx context.Context, filter string, limit int, fresh bool) ([]Event, error)
	NationCategory(ctx context.Context, nation string, fresh bool) (string, error)
	CensusScore(ctx context.Context, nation string, scale int, fresh bool) (float64, error)
	CanReceive(ctx context.Context, nation string, class TelegramClass, from string) (bool, error)
	SendTelegram(ctx context.Context, creds Credentials, tg Telegram, recipient string) error
}

// RemoteError is any failure reported by the directory. Body carries the raw
// response text; callers may inspect it but should not parse it beyond the
// helpers below.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 120 {
		body = body[:120] + "..."
	}
	if body == "" {
		return fmt.Sprintf("directory: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("directory: request failed with status %d: %s", e.Status, body)
}

// IsUnknownNation reports whether err is the directory telling us the nation
// does not exist. Per-nation attribute lookups treat this as a non-match
// rather than a fatal failure; every other remote error stays fatal.
func IsUnknownNation(err error) bool {
	var re *RemoteError
	if !errors.As(err, &re) {
		return false
	}
	if re.Status == http.StatusNotFound {
		return true
	}
	return strings.Contains(strings.ToLower(re.Body), "unknown nation")
}
