package namefilter

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/classindex/internal/probe"
)

func Test_New_Clamps_Capacity_When_Out_Of_Range(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MinCapacity, New(0).Capacity())
	assert.Equal(t, MinCapacity, New(100).Capacity())
	assert.Equal(t, 512, New(300).Capacity())
	assert.Equal(t, MaxCapacity, New(MaxCapacity+1).Capacity())
}

func Test_Contains_Returns_True_When_Name_Was_Added(t *testing.T) {
	t.Parallel()

	f := New(4096)

	names := make([]string, 0, 1000)
	for i := range 1000 {
		names = append(names, fmt.Sprintf("com/example/pkg%d/Generated$%d", i%13, i))
	}

	for _, name := range names {
		f.Add(name)
		require.True(t, f.Contains(name), "%s right after Add", name)
	}

	for _, name := range names {
		assert.True(t, f.Contains(name), name)
	}
}

func Test_Contains_Returns_False_When_Name_Was_Never_Added(t *testing.T) {
	t.Parallel()

	f := New(4096)

	for i := range 200 {
		f.Add(fmt.Sprintf("com/example/Added%d", i))
	}

	falsePositives := 0

	for i := range 2000 {
		if f.Contains(fmt.Sprintf("org/other/Missing%d", i)) {
			falsePositives++
		}
	}

	assert.Zero(t, falsePositives)
	assert.False(t, f.Contains(""))
}

func Test_Add_Ignores_Empty_Name(t *testing.T) {
	t.Parallel()

	f := New(0)
	f.Add("")

	assert.Equal(t, 0, f.Len())
	assert.False(t, f.Contains(""))
}

func Test_Add_Is_Idempotent_When_Name_Is_Added_Twice(t *testing.T) {
	t.Parallel()

	f := New(0)
	f.Add("java/lang/String")
	f.Add("java/lang/String")

	assert.Equal(t, 1, f.Len())
}

func Test_Contains_Rejects_Hash_Collision_When_Class_Code_Differs(t *testing.T) {
	t.Parallel()

	f := New(0)
	name := "com/example/Widget"
	other := "com/example/Gadget"

	// plant other's code under name's hash to simulate a pure hash collision
	hash := probe.Hash(name)
	f.slots[hash&f.mask].Store(uint64(classCode(other))<<32 | uint64(hash))

	assert.False(t, f.Contains(name))

	f.slots[hash&f.mask].Store(uint64(classCode(name))<<32 | uint64(hash))

	assert.True(t, f.Contains(name))
}

func Test_ClassCode_Packs_Simple_Name_Shape_When_Computed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want uint32
	}{
		// start=12 end=17: 't'<<24 | 'W'<<16 | 5<<8 | 12
		{name: "com/example/Widget", want: uint32('t')<<24 | uint32('W')<<16 | 5<<8 | 12},
		{name: "com.example.Widget", want: uint32('t')<<24 | uint32('W')<<16 | 5<<8 | 12},
		{name: "Top", want: uint32('p')<<24 | uint32('T')<<16 | 2<<8 | 0},
		{name: "a/", want: uint32('/')<<24 | 0<<16 | 0xFF<<8 | 2},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classCode(tt.name), tt.name)
	}
}

func Test_Contains_Finds_Name_When_Simple_Name_Is_Longer_Than_255(t *testing.T) {
	t.Parallel()

	f := New(0)

	long := "pkg/"
	for range 300 {
		long += "x"
	}

	f.Add(long)
	assert.True(t, f.Contains(long))
}

func Test_Add_Overwrites_First_Probed_Slot_When_Chain_Is_Full(t *testing.T) {
	t.Parallel()

	f := New(0)
	name := "com/example/Late"
	hash := probe.Hash(name)

	// occupy the whole probe chain with unrelated hashes
	h := hash
	for i := range probe.MaxAttempts {
		f.slots[h&f.mask].Store(uint64(i+1)<<32 | uint64(^hash-uint32(i)))
		h = probe.Rehash(h)
	}

	f.Add(name)

	assert.Equal(t, uint32(hash), uint32(f.slots[hash&f.mask].Load()))
	assert.True(t, f.Contains(name))
}

func Test_Clear_Removes_Every_Name(t *testing.T) {
	t.Parallel()

	f := New(0)
	f.Add("com/example/A")
	f.Add("com/example/B")

	f.Clear()

	assert.Equal(t, 0, f.Len())
	assert.False(t, f.Contains("com/example/A"))
}

func Test_Filter_Has_No_False_Negatives_When_Added_Concurrently(t *testing.T) {
	t.Parallel()

	f := New(1 << 16)

	var wg sync.WaitGroup

	for g := range 8 {
		wg.Go(func() {
			for i := range 500 {
				f.Add(fmt.Sprintf("g%d/Class%d", g, i))
			}
		})
	}

	wg.Wait()

	for g := range 8 {
		for i := range 500 {
			name := fmt.Sprintf("g%d/Class%d", g, i)
			assert.True(t, f.Contains(name), name)
		}
	}
}
