package entity

import "strconv"

// FormatId renders a numeric id the way it is used as a Redis hash field
func FormatId(id int64) string {
	return strconv.FormatInt(id, 10)
}
