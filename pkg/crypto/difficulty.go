package crypto

// MeetsDifficulty reports whether hashHex satisfies the proof-of-work target
// for the given difficulty: difficulty 0 is always satisfied; otherwise
// difficulty must be in [1,64] and the first `difficulty` hex characters of
// hashHex must all be '0'.
func MeetsDifficulty(hashHex string, difficulty int) bool {
	if difficulty == 0 {
		return true
	}
	if difficulty < 1 || difficulty > 64 {
		return false
	}
	if len(hashHex) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hashHex[i] != '0' {
			return false
		}
	}
	return true
}
