package store

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
)

func TestCreateAndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.Create(ctx, "My passport photo is in C:/folder/")
	gt.NoError(t, err)
	gt.True(t, id > 0)

	m, err := db.Get(ctx, id)
	gt.NoError(t, err)
	gt.V(t, m).NotNil()
	gt.Equal(t, m.Content, "My passport photo is in C:/folder/")
	gt.True(t, !m.CreatedAt.IsZero())
}

func TestGetMissing(t *testing.T) {
	db := testDB(t)

	m, err := db.Get(context.Background(), 42)
	gt.NoError(t, err)
	gt.Nil(t, m)
}

func TestCreateRejectsBlank(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := db.Create(ctx, content)
		gt.True(t, errors.Is(err, ErrEmptyMemory))
	}

	n, err := db.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 0)
}

func TestIDsAreMonotonic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var last int64
	for _, c := range []string{"one", "two", "three"} {
		id, err := db.Create(ctx, c)
		gt.NoError(t, err)
		gt.True(t, id > last)
		last = id
	}
}

func TestListAllNewestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	empty, err := db.ListAll(ctx)
	gt.NoError(t, err)
	gt.A(t, empty).Length(0)

	for _, c := range []string{"first", "second", "third"} {
		_, err := db.Create(ctx, c)
		gt.NoError(t, err)
	}

	memories, err := db.ListAll(ctx)
	gt.NoError(t, err)
	gt.A(t, memories).Length(3)
	gt.Equal(t, memories[0].Content, "third")
	gt.Equal(t, memories[1].Content, "second")
	gt.Equal(t, memories[2].Content, "first")
}
