// Package serializer encodes coordinator snapshots for the management API.
// Formats are looked up by name or picked from an HTTP Accept header.
package serializer

import (
	"slices"
	"strings"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// Codec turns values into one wire format and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// ContentType is the MIME type of the encoded form.
	ContentType() string
}

// Set maps format names to codecs. The zero value is empty.
type Set struct {
	byName map[string]Codec
}

// Defaults returns a set holding json, msgpack and cbor.
func Defaults() *Set {
	s := &Set{}
	s.Add("json", JSON())
	s.Add("msgpack", Msgpack())
	s.Add("cbor", CBOR())

	return s
}

// Add registers c under name, replacing any earlier codec with that name.
func (s *Set) Add(name string, c Codec) {
	if s.byName == nil {
		s.byName = map[string]Codec{}
	}

	s.byName[name] = c
}

// Lookup returns the codec registered under name.
func (s *Set) Lookup(name string) (Codec, error) { //nolint:ireturn
	if name == "" {
		return nil, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "format")
	}

	c, ok := s.byName[name]
	if !ok {
		return nil, ewrap.Wrap(sentinel.ErrSerializerNotFound, name)
	}

	return c, nil
}

// Names lists the registered formats in ascending order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}

	slices.Sort(out)

	return out
}

// ForAccept returns the first registered format whose content type is listed in an
// Accept header. Media type parameters and quality values are ignored; order wins.
func (s *Set) ForAccept(accept string) (string, bool) {
	names := s.Names()

	for part := range strings.SplitSeq(accept, ",") {
		media, _, _ := strings.Cut(part, ";")
		media = strings.TrimSpace(media)

		for _, name := range names {
			if strings.EqualFold(s.byName[name].ContentType(), media) {
				return name, true
			}
		}
	}

	return "", false
}
