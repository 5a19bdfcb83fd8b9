package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type pageRow struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time
}

func rowKey(r pageRow) Cursor { return Cursor{CreatedAt: r.CreatedAt, ID: r.ID} }

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC), ID: uuid.New()}
	token := c.Encode()
	require.NotContains(t, token, "=")

	parsed, err := ParseCursor(token)
	require.NoError(t, err)
	require.True(t, c.CreatedAt.Equal(parsed.CreatedAt))
	require.Equal(t, c.ID, parsed.ID)

	blank, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, blank)
	require.Empty(t, EncodeCursor(nil))
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm8tZG90", Cursor{CreatedAt: time.Now(), ID: uuid.New()}.Encode()[:10]} {
		_, err := ParseCursor(token)
		require.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, DefaultLimit, NormalizeLimit(-4))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
	require.Equal(t, 7, NormalizeLimit(7))
}

func TestSeekWalksEveryRowOnce(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&pageRow{}))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want := map[uuid.UUID]bool{}
	for i := 0; i < 7; i++ {
		// pairs share a timestamp so the id tiebreak is exercised
		r := pageRow{ID: uuid.New(), CreatedAt: base.Add(time.Duration(i/2) * time.Second)}
		require.NoError(t, conn.Create(&r).Error)
		want[r.ID] = true
	}

	var (
		after *Cursor
		pages int
		seen  = map[uuid.UUID]bool{}
	)
	for {
		var rows []pageRow
		require.NoError(t, Seek(conn.Model(&pageRow{}), after, 3).Find(&rows).Error)
		page, next := Trim(rows, 3, rowKey)
		pages++
		for i, r := range page {
			require.False(t, seen[r.ID], "row returned twice")
			seen[r.ID] = true
			if i > 0 {
				require.False(t, r.CreatedAt.After(page[i-1].CreatedAt), "page not newest first")
			}
		}
		if next == nil {
			break
		}
		after, err = ParseCursor(next.Encode())
		require.NoError(t, err)
	}
	require.Equal(t, 3, pages)
	require.Equal(t, want, seen)
}

func TestTrimLastPage(t *testing.T) {
	rows := []pageRow{{ID: uuid.New()}, {ID: uuid.New()}}
	page, next := Trim(rows, 2, rowKey)
	require.Len(t, page, 2)
	require.Nil(t, next)

	page, next = Trim(append(rows, pageRow{ID: uuid.New()}), 2, rowKey)
	require.Len(t, page, 2)
	require.Equal(t, rows[1].ID, next.ID)
}
