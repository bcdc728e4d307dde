package schema

import "time"

// Profile holds per-user settings synced under mutation type "user".
type Profile struct {
	UserID      string            `json:"userId"`
	DisplayName string            `json:"displayName,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// ProfilePatch is a partial update of a profile. Settings are merged key
// by key; an empty value removes the key.
type ProfilePatch struct {
	DisplayName *string           `json:"displayName,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
}

// Fields renders the patch as a document field map. Settings keys are
// addressed with dotted paths so unrelated keys survive.
func (p ProfilePatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.DisplayName != nil {
		fields["displayName"] = *p.DisplayName
	}
	for k, v := range p.Settings {
		if v == "" {
			fields["settings."+k] = nil
			continue
		}
		fields["settings."+k] = v
	}
	return fields
}
