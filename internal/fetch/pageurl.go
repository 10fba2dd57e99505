package fetch

import (
	"fmt"
	"net/url"
	"strconv"
)

// PageURL returns the target URL with the pagination parameter applied.
// Page 1 is the target itself.
func PageURL(target string, page int) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target url: %w", err)
	}
	if page > 1 {
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
