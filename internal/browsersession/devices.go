package browsersession

import (
	"encoding/json"
	"os"
	"sync"

	"go.mau.fi/whatsmeow/types"
)

// deviceRegistry persists the owner_id -> linked-device JID mapping as a
// JSON file, in the same plain-JSON style as internal/config's
// SaveConfig/LoadConfig, rather than adding a new dependency just for
// this small amount of state.
type deviceRegistry struct {
	mu   sync.Mutex
	path string
	jids map[string]string // owner_id -> JID string
}

func newDeviceRegistry(path string) (*deviceRegistry, error) {
	r := &deviceRegistry{path: path, jids: map[string]string{}}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(b, &r.jids); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *deviceRegistry) lookup(ownerID string) (types.JID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.jids[ownerID]
	if !ok {
		return types.JID{}, false
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return types.JID{}, false
	}
	return jid, true
}

func (r *deviceRegistry) set(ownerID string, jid types.JID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jids[ownerID] = jid.String()
}

func (r *deviceRegistry) save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := json.MarshalIndent(r.jids, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, b, 0o640)
}
