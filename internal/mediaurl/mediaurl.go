package mediaurl

import (
	"net/url"
	"strings"
)

const PathPrefix = "/media/"

// Attachment returns the public URL for an attachment, relative when baseURL
// is empty.
func Attachment(baseURL, attachmentID string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return baseURL + PathPrefix + url.PathEscape(attachmentID)
}
