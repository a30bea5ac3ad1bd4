package common

import "strings"

const CNPJLength = 14

var (
	cnpjFirstWeights  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjSecondWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// NormalizeCNPJ strips the usual punctuation (".", "/", "-" and spaces) from a CNPJ.
//
//	NormalizeCNPJ("11.222.333/0001-81") => "11222333000181"
func NormalizeCNPJ(cnpj string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '/', '-', ' ':
			return -1
		}
		return r
	}, cnpj)
}

// ValidCNPJ reports whether cnpj is a well-formed Brazilian company tax id.
// Both check digits are verified; sequences of one repeated digit are rejected.
func ValidCNPJ(cnpj string) bool {
	digits := NormalizeCNPJ(cnpj)
	if len(digits) != CNPJLength {
		return false
	}

	nums := make([]int, CNPJLength)
	repeated := true
	for i := 0; i < CNPJLength; i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		nums[i] = int(c - '0')
		if i > 0 && nums[i] != nums[0] {
			repeated = false
		}
	}
	if repeated {
		return false
	}

	if cnpjCheckDigit(nums[:12], cnpjFirstWeights) != nums[12] {
		return false
	}
	return cnpjCheckDigit(nums[:13], cnpjSecondWeights) == nums[13]
}

// FormatCNPJ renders 14 digits as "NN.NNN.NNN/NNNN-NN". Invalid input is returned unchanged.
func FormatCNPJ(cnpj string) string {
	d := NormalizeCNPJ(cnpj)
	if len(d) != CNPJLength {
		return cnpj
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}

func cnpjCheckDigit(nums, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += nums[i] * w
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}
