package recstore

import "fmt"

// primeLadder holds roughly doubling primes used to size the hash table.
var primeLadder = [...]int{
	53, 97, 193, 389, 769, 1543, 3079, 6151, 12289, 24593,
	49157, 98317, 196613, 393241, 786433, 1572869, 3145739,
	6291469, 12582917, 25165843, 50331653, 100663319, 201326611,
	402653189, 805306457, 1610612741,
}

// LargerPrime returns the smallest prime on the ladder that is greater than n.
//
// Returns [ErrInvalidInput] when n is at or beyond the top of the ladder.
func LargerPrime(n int) (int, error) {
	top := primeLadder[len(primeLadder)-1]
	if n >= top {
		return 0, fmt.Errorf("n %d must be < %d: %w", n, top, ErrInvalidInput)
	}

	for _, p := range primeLadder {
		if p > n {
			return p, nil
		}
	}

	// Unreachable: n < top guarantees a match.
	return top, nil
}

// Sizing returns the hash slot count and conflict capacity for a store that
// holds up to recordCount records.
//
// Hash slots are the next ladder prime above 2*recordCount. Conflict capacity
// is recordCount/2, and at least 1.
func Sizing(recordCount int) (hashSlots, conflictCapacity int, err error) {
	if recordCount <= 0 {
		return 0, 0, fmt.Errorf("record_count must be > 0, got %d: %w", recordCount, ErrInvalidInput)
	}

	if recordCount > maxRecordCount {
		return 0, 0, fmt.Errorf("record_count %d exceeds max %d: %w", recordCount, maxRecordCount, ErrInvalidInput)
	}

	hashSlots, err = LargerPrime(recordCount * 2)
	if err != nil {
		return 0, 0, fmt.Errorf("record_count %d: %w", recordCount, err)
	}

	return hashSlots, max(recordCount/2, 1), nil
}
