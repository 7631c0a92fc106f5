package rulecache

import "testing"

func TestBuildBalancedOrderProducesSearchableTree(t *testing.T) {
	hashes := []uint32{50, 10, 90, 30, 70, 20, 80, 40, 60}
	capacity := 16
	order := buildBalancedOrder(hashes, capacity)

	present := map[uint32]bool{}
	for _, h := range order {
		if h != 0 {
			present[h] = true
		}
	}
	for _, h := range hashes {
		if !present[h] {
			t.Errorf("hash %d missing from the balanced order", h)
		}
	}

	// Verify the array literally encodes a valid BST under the implicit
	// left=2i+1/right=2i+2 addressing: every left subtree node must sort
	// below its parent, every right subtree node above.
	var check func(pos int)
	check = func(pos int) {
		if pos >= len(order) || order[pos] == 0 {
			return
		}
		left, right := 2*pos+1, 2*pos+2
		if left < len(order) && order[left] != 0 && order[left] >= order[pos] {
			t.Errorf("left child %d at pos %d is not less than parent %d", order[left], left, order[pos])
		}
		if right < len(order) && order[right] != 0 && order[right] <= order[pos] {
			t.Errorf("right child %d at pos %d is not greater than parent %d", order[right], right, order[pos])
		}
		check(left)
		check(right)
	}
	check(0)
}

func TestBuildBalancedOrderSingleHash(t *testing.T) {
	order := buildBalancedOrder([]uint32{42}, 4)
	if order[0] != 42 {
		t.Errorf("order[0] = %d, want 42 at the root", order[0])
	}
}

func TestBuildBalancedOrderEmpty(t *testing.T) {
	order := buildBalancedOrder(nil, 4)
	for i, h := range order {
		if h != 0 {
			t.Errorf("order[%d] = %d, want 0 (no hashes)", i, h)
		}
	}
}

func TestTreeHeight(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{7, 3},
		{8, 4},
	}
	for _, tt := range tests {
		if got := treeHeight(tt.n); got != tt.want {
			t.Errorf("treeHeight(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}
