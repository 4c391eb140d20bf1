package cloudsync

import "golang.org/x/text/unicode/norm"

// normalizeKey applies Unicode NFC normalization before a table name or
// device identifier is used as a map key, so two Unicode-equivalent but
// byte-distinct strings never desynchronize queue, context, or watermark
// state.
func normalizeKey(s string) string {
	return norm.NFC.String(s)
}

func normalizeKeys(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = normalizeKey(s)
	}

	return out
}
