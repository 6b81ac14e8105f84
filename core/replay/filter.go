package replay

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/codewandler/clstr-timemachine/core/ds"
)

// FallbackTag is the tag of FallbackFilter. No twin emits it, so a replay
// using the fallback shows "no matching events" instead of failing.
const FallbackTag = "unknown"

// Filter selects events by tag. An event matches when it carries every tag
// of the filter (logical AND). The zero Filter matches all events.
type Filter struct {
	tags ds.Set[string]
}

// Tags builds a filter from tags. Blank tags are ignored.
func Tags(tags ...string) Filter {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	return Filter{tags: ds.NewSet(clean...)}
}

// MatchAll returns a filter without tags.
func MatchAll() Filter { return Filter{} }

// FallbackFilter is substituted for filter strings that cannot be parsed.
func FallbackFilter() Filter { return Tags(FallbackTag) }

// ParseFilter parses space-separated tag tokens.
func ParseFilter(s string) (Filter, error) {
	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return Filter{}, fmt.Errorf("%w: no tags in %q", ErrMalformedFilter, s)
	}
	for _, tok := range tokens {
		if err := validateTag(tok); err != nil {
			return Filter{}, err
		}
	}
	return Tags(tokens...), nil
}

// FilterFromString parses s and recovers from malformed input by returning
// FallbackFilter.
func FilterFromString(s string) Filter {
	f, err := ParseFilter(s)
	if err != nil {
		return FallbackFilter()
	}
	return f
}

func validateTag(tag string) error {
	if !utf8.ValidString(tag) {
		return fmt.Errorf("%w: tag %q is not valid utf-8", ErrMalformedFilter, tag)
	}
	for _, r := range tag {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: tag %q contains %U", ErrMalformedFilter, tag, r)
		}
	}
	return nil
}

// Matches reports whether an event with the given tags passes the filter.
func (f Filter) Matches(tags []string) bool {
	if f.tags.IsEmpty() {
		return true
	}
	return ds.NewSet(tags...).ContainsAll(f.tags)
}

// MatchesEvent is Matches applied to e.Tags.
func (f Filter) MatchesEvent(e Event) bool { return f.Matches(e.Tags) }

// Tags returns the sorted tags of the filter.
func (f Filter) Tags() []string { return f.tags.Values() }

// IsMatchAll reports whether the filter has no tags.
func (f Filter) IsMatchAll() bool { return f.tags.IsEmpty() }

// Equal compares the tag sets of both filters.
func (f Filter) Equal(o Filter) bool { return f.tags.Eq(o.tags) }

// String joins the tags with single spaces. ParseFilter(f.String()) yields a
// filter equal to f for every filter holding at least one tag.
func (f Filter) String() string { return strings.Join(f.tags.Values(), " ") }

func (f Filter) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Filter) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*f = MatchAll()
		return nil
	}
	parsed, err := ParseFilter(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
