// Behavior: random Share and Find sequences on a small cache.
//
// Oracle: a hit always carries a payload shared under the same name from a
// compatible scope, and a Find right after Share under the same scope hits.

package infocache_test

import (
	"testing"

	"github.com/calvinalkan/classindex/internal/testutil"
	"github.com/calvinalkan/classindex/pkg/infocache"
)

type shared struct {
	name    string
	scopeID int32
}

func FuzzCache_Hits_Only_Compatible_Scopes(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{1, 'a', 0, 2, 'a', 1})
	f.Add([]byte{0, 3, 'x', 'y', 'z', 255, 1, 3, 'x', 'y', 'z', 7})

	f.Fuzz(func(t *testing.T, data []byte) {
		stream := testutil.NewByteStream(data)
		cache := infocache.New[shared](infocache.MinCapacity)

		for stream.HasMore() {
			name := stream.ClassName()
			scopeID := int32(stream.Intn(4)) - 1

			if stream.Bool() {
				cache.Share(name, shared{name: name, scopeID: scopeID}, scopeID)

				got, ok := cache.Find(name, scopeID)
				if !ok || got.scopeID != scopeID {
					t.Fatalf("Find(%q, %d) after Share = %+v, %v", name, scopeID, got, ok)
				}

				continue
			}

			got, ok := cache.Find(name, scopeID)
			if !ok {
				continue
			}

			if got.name != name {
				t.Fatalf("Find(%q) returned payload of %q", name, got.name)
			}

			if got.scopeID != scopeID && got.scopeID != infocache.AllScopes && scopeID != infocache.AllScopes {
				t.Fatalf("Find(%q, %d) hit entry shared under %d", name, scopeID, got.scopeID)
			}
		}

		if cache.Len() > cache.Capacity() {
			t.Fatalf("Len %d exceeds capacity %d", cache.Len(), cache.Capacity())
		}
	})
}
