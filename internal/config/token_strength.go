package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakTokenScoreThreshold = 3

// TokenScore returns the zxcvbn score (0-4) of token.
func TokenScore(token string) int {
	return zxcvbn.PasswordStrength(token, nil).Score
}

// IsWeakToken returns whether token strength is considered weak.
// An empty token disables auth altogether, so it is not reported as weak.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return TokenScore(token) < weakTokenScoreThreshold
}
