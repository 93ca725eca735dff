package decode

import "testing"

func TestTagSensitivity(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		current Sensitivity
		want    Sensitivity
	}{
		{name: "plain text stays public", text: "hello world", current: "", want: SensitivityPublic},
		{name: "email address is private", text: "contact me at alice@example.com", current: "", want: SensitivityPrivate},
		{name: "password param is sensitive", text: "POST /login?password=hunter2", current: "", want: SensitivitySensitive},
		{name: "ssn shaped digits are critical", text: "ssn: 123-45-6789", current: "", want: SensitivityCritical},
		{name: "bearer token is critical", text: "Authorization: Bearer abc.def.ghi", current: "", want: SensitivityCritical},
		{name: "never downgrades below current", text: "hello world", current: SensitivityCritical, want: SensitivityCritical},
		{name: "escalates from private to sensitive", text: "password=xyz and alice@example.com", current: SensitivityPrivate, want: SensitivitySensitive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TagSensitivity(tt.text, tt.current); got != tt.want {
				t.Errorf("TagSensitivity() = %v, want %v", got, tt.want)
			}
		})
	}
}
