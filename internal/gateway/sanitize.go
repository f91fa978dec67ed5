package gateway

import (
	"strconv"
	"strings"

	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

// DefaultModelID is used when the handshake names no valid model.
const DefaultModelID = 1

var angleStripper = strings.NewReplacer("<", "", ">", "")

// Sanitize removes angle brackets and surrounding whitespace from client text.
func Sanitize(s string) string {
	return strings.TrimSpace(angleStripper.Replace(s))
}

// ParseModelID reads modelId, falling back to the legacy selectedAvatarId and
// then to DefaultModelID.
//
// Postcondition: Returns a value >= 1.
func ParseModelID(hs protocol.Handshake) int {
	for _, raw := range []string{hs.ModelID, hs.SelectedAvatarID} {
		if id, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && id >= 1 {
			return id
		}
	}
	return DefaultModelID
}
