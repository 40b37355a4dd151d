package authz

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Capability is a token gating one menu entry, route or API group.
type Capability string

const (
	CapDashboard  Capability = "dashboard"
	CapEvents     Capability = "events"
	CapStudents   Capability = "students"
	CapNews       Capability = "news"
	CapCourses    Capability = "courses"
	CapPlacements Capability = "placements"
	CapWorkshops  Capability = "workshops"
	CapSEO        Capability = "seo"
	CapSettings   Capability = "settings"
	CapSessions   Capability = "sessions"
	CapUsers      Capability = "users"
	CapBackup     Capability = "backup"
)

// AllSentinel is the encoded form of unrestricted permissions.
const AllSentinel = "all"

var (
	AllCapabilities = []Capability{
		CapDashboard, CapEvents, CapStudents, CapNews, CapCourses, CapPlacements,
		CapWorkshops, CapSEO, CapSettings, CapSessions, CapUsers, CapBackup,
	}

	errInvalidPermissions = errors.New("invalid permissions")
)

// Permissions is either Unrestricted or a Scoped set of capabilities.
// The zero value is an empty scoped set.
type Permissions struct {
	all  bool
	caps map[Capability]struct{}
}

func Unrestricted() Permissions {
	return Permissions{all: true}
}

func Scoped(caps ...Capability) Permissions {
	p := Permissions{caps: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		if c = Capability(strings.TrimSpace(string(c))); c != "" {
			p.caps[c] = struct{}{}
		}
	}
	return p
}

// ParsePermissions reads the list form used by the CLI and the API: `all` anywhere makes the set unrestricted.
func ParsePermissions(raw ...string) Permissions {
	caps := make([]Capability, 0, len(raw))
	for _, r := range raw {
		for _, s := range strings.Split(r, ",") {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == AllSentinel {
				return Unrestricted()
			}
			caps = append(caps, Capability(s))
		}
	}
	return Scoped(caps...)
}

func (p Permissions) IsUnrestricted() bool { return p.all }

// Has reports whether c is granted.
func (p Permissions) Has(c Capability) bool {
	if p.all {
		return true
	}
	_, ok := p.caps[c]
	return ok
}

// Capabilities returns the scoped capabilities, sorted. It is nil for unrestricted permissions.
func (p Permissions) Capabilities() []Capability {
	if p.all || len(p.caps) == 0 {
		return nil
	}
	caps := make([]Capability, 0, len(p.caps))
	for c := range p.caps {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

func (p Permissions) Equal(o Permissions) bool {
	if p.all || o.all {
		return p.all == o.all
	}
	if len(p.caps) != len(o.caps) {
		return false
	}
	for c := range p.caps {
		if _, ok := o.caps[c]; !ok {
			return false
		}
	}
	return true
}

// Unknown returns the scoped capabilities that are not part of AllCapabilities.
func (p Permissions) Unknown() []Capability {
	var unknown []Capability
	for _, c := range p.Capabilities() {
		known := false
		for _, k := range AllCapabilities {
			if c == k {
				known = true
				break
			}
		}
		if !known {
			unknown = append(unknown, c)
		}
	}
	return unknown
}

func (p Permissions) String() string {
	if p.all {
		return AllSentinel
	}
	caps := p.Capabilities()
	strs := make([]string, len(caps))
	for i, c := range caps {
		strs[i] = string(c)
	}
	return strings.Join(strs, ",")
}

func (p Permissions) MarshalJSON() ([]byte, error) {
	if p.all {
		return json.Marshal(AllSentinel)
	}
	caps := p.Capabilities()
	if caps == nil {
		caps = []Capability{}
	}
	return json.Marshal(caps)
}

// UnmarshalJSON reads "all", a list of capabilities, or null for an empty scoped set.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Permissions{}
		return nil
	}

	var sentinel string
	if err := json.Unmarshal(data, &sentinel); err == nil {
		if strings.ToLower(strings.TrimSpace(sentinel)) != AllSentinel {
			return errors.Wrapf(errInvalidPermissions, "unknown sentinel %q", sentinel)
		}
		*p = Unrestricted()
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.Wrap(errInvalidPermissions, err.Error())
	}
	*p = ParsePermissions(list...)
	return nil
}

// Value stores permissions as JSON: `"all"` or a list of capabilities.
func (p Permissions) Value() (driver.Value, error) {
	b, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *Permissions) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = Permissions{}
		return nil
	case []byte:
		return p.UnmarshalJSON(v)
	case string:
		return p.UnmarshalJSON([]byte(v))
	default:
		return errors.Wrapf(errInvalidPermissions, "cannot scan %T", src)
	}
}
