package utils

import "strings"

// InArrayFold 不区分大小写
func InArrayFold(arr []string, str string) bool {
	for _, d := range arr {
		if strings.EqualFold(strings.TrimSpace(d), str) {
			return true
		}
	}
	return false
}
