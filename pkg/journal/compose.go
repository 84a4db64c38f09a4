package journal

import "strings"

const (
	practicalHeading  = "【実習内容】"
	unachievedHeading = "【達成できなかった点・反省】"
)

// Compose builds the entry text stored as content_raw and shown to annotators.
// Empty parts are omitted; the result is empty when both parts are.
func Compose(practical, unachieved string) string {
	var parts []string
	if p := strings.TrimSpace(practical); p != "" {
		parts = append(parts, practicalHeading+"\n"+p)
	}
	if u := strings.TrimSpace(unachieved); u != "" {
		parts = append(parts, unachievedHeading+"\n"+u)
	}
	return strings.Join(parts, "\n\n")
}
