package protocol

import "net/url"

// Handshake carries the raw, unvalidated connection parameters.
type Handshake struct {
	Username         string
	ModelID          string
	SelectedAvatarID string
	SceneKey         string
}

// HandshakeFromQuery reads the handshake from URL query parameters.
func HandshakeFromQuery(q url.Values) Handshake {
	return Handshake{
		Username:         q.Get(QueryUsername),
		ModelID:          q.Get(QueryModelID),
		SelectedAvatarID: q.Get(QuerySelectedAvatarID),
		SceneKey:         q.Get(QuerySceneKey),
	}
}

// Query encodes the handshake as URL query parameters. Empty fields are omitted.
func (h Handshake) Query() url.Values {
	q := url.Values{}
	for k, v := range map[string]string{
		QueryUsername:         h.Username,
		QueryModelID:          h.ModelID,
		QuerySelectedAvatarID: h.SelectedAvatarID,
		QuerySceneKey:         h.SceneKey,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q
}
