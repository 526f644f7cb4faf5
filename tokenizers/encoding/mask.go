package encoding

// GenericSpecialTokensMask returns the special tokens mask of sequences that already contain their special
// tokens: 1 for every id that is one of specialIDs, 0 otherwise.
//
// If ids1 is given, the mask covers ids0 followed by ids1.
func GenericSpecialTokensMask(ids0, ids1 []int, specialIDs []int) []int {
	special := make(map[int]struct{}, len(specialIDs))
	for _, id := range specialIDs {
		special[id] = struct{}{}
	}
	mask := make([]int, 0, len(ids0)+len(ids1))
	for _, ids := range [][]int{ids0, ids1} {
		for _, id := range ids {
			if _, found := special[id]; found {
				mask = append(mask, 1)
			} else {
				mask = append(mask, 0)
			}
		}
	}
	return mask
}
