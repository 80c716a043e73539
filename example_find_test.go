package mirror_test

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	mirror "github.com/hamptonsmith/local-mongodb-collection-mirror"
	"github.com/hamptonsmith/local-mongodb-collection-mirror/internal/mock"
)

// ExampleMirror_Find mirrors a small collection and queries the replica. A
// real application would construct the remote collection with
// pkg/remote/mongodb instead of the in-memory mock used here.
func ExampleMirror_Find() {
	ctx := context.Background()

	coll := mock.NewCollection(
		bson.D{{Key: "_id", Value: "abc"}, {Key: "foo", Value: "bar"}},
		bson.D{{Key: "_id", Value: "def"}, {Key: "bazz", Value: bson.D{{Key: "waldo", Value: "plugh"}}}},
	)

	m := mirror.New(ctx, coll, nil)
	defer m.Close(ctx)

	if err := m.WaitUntilReady(ctx); err != nil {
		panic(err)
	}

	docs, err := m.Find(bson.D{})
	if err != nil {
		panic(err)
	}

	sort.Slice(docs, func(i, j int) bool {
		return fmt.Sprint(docs[i][0].Value) < fmt.Sprint(docs[j][0].Value)
	})
	for _, doc := range docs {
		fmt.Println(doc[0].Value)
	}
	fmt.Println(m.Has("ghi"))

	// Output:
	// abc
	// def
	// false
}
