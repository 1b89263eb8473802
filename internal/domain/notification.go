package domain

// Notification is the user-visible part of a push message.
//
// Every field is optional and platform dependent; nil means unset and is
// omitted from the wire payload. No cross-field validation is done here.
type Notification struct {
	Title        *string  `json:"title,omitempty"`
	Body         *string  `json:"body,omitempty"`
	Icon         *string  `json:"icon,omitempty"`
	Sound        *string  `json:"sound,omitempty"`
	Badge        *string  `json:"badge,omitempty"`
	Tag          *string  `json:"tag,omitempty"`
	Color        *string  `json:"color,omitempty"`
	ClickAction  *string  `json:"click_action,omitempty"`
	BodyLocKey   *string  `json:"body_loc_key,omitempty"`
	BodyLocArgs  []string `json:"body_loc_args,omitempty"`
	TitleLocKey  *string  `json:"title_loc_key,omitempty"`
	TitleLocArgs []string `json:"title_loc_args,omitempty"`
}

// Fields returns the set fields keyed by their wire name.
func (n Notification) Fields() map[string]any {
	fields := make(map[string]any)

	putString(fields, "title", n.Title)
	putString(fields, "body", n.Body)
	putString(fields, "icon", n.Icon)
	putString(fields, "sound", n.Sound)
	putString(fields, "badge", n.Badge)
	putString(fields, "tag", n.Tag)
	putString(fields, "color", n.Color)
	putString(fields, "click_action", n.ClickAction)
	putString(fields, "body_loc_key", n.BodyLocKey)
	putStrings(fields, "body_loc_args", n.BodyLocArgs)
	putString(fields, "title_loc_key", n.TitleLocKey)
	putStrings(fields, "title_loc_args", n.TitleLocArgs)

	return fields
}

func (n Notification) clone() Notification {
	out := n
	out.Title = cloneString(n.Title)
	out.Body = cloneString(n.Body)
	out.Icon = cloneString(n.Icon)
	out.Sound = cloneString(n.Sound)
	out.Badge = cloneString(n.Badge)
	out.Tag = cloneString(n.Tag)
	out.Color = cloneString(n.Color)
	out.ClickAction = cloneString(n.ClickAction)
	out.BodyLocKey = cloneString(n.BodyLocKey)
	out.BodyLocArgs = cloneStrings(n.BodyLocArgs)
	out.TitleLocKey = cloneString(n.TitleLocKey)
	out.TitleLocArgs = cloneStrings(n.TitleLocArgs)
	return out
}

func putString(fields map[string]any, key string, v *string) {
	if v != nil {
		fields[key] = *v
	}
}

func putStrings(fields map[string]any, key string, v []string) {
	if v != nil {
		fields[key] = cloneStrings(v)
	}
}

func putBool(fields map[string]any, key string, v *bool) {
	if v != nil {
		fields[key] = *v
	}
}

func putInt(fields map[string]any, key string, v *int) {
	if v != nil {
		fields[key] = *v
	}
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneStrings(v []string) []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}
