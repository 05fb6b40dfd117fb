package mediaurl

import "testing"

func TestAttachment(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		id      string
		want    string
	}{
		{name: "relative", baseURL: "", id: "att_1", want: "/media/att_1"},
		{name: "trailing_slash", baseURL: "https://chat.example.com/", id: "att_1", want: "https://chat.example.com/media/att_1"},
		{name: "whitespace", baseURL: "  http://localhost:8080 ", id: "att_2", want: "http://localhost:8080/media/att_2"},
		{name: "escaped", baseURL: "", id: "a/b", want: "/media/a%2Fb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Attachment(tt.baseURL, tt.id); got != tt.want {
				t.Fatalf("Attachment(%q, %q) = %q, want %q", tt.baseURL, tt.id, got, tt.want)
			}
		})
	}
}
