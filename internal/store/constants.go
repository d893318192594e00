package store

import "time"

const (
	OpenTimeout        = 5 * time.Second
	QueryTimeout       = 5 * time.Second
	DefaultRecentLimit = 20
)

// schema is portable across sqlite, postgres and mysql. Times are unix
// milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS games (
    id            VARCHAR(64)  NOT NULL PRIMARY KEY,
    source        VARCHAR(255) NOT NULL,
    started_at_ms BIGINT       NOT NULL,
    ended_at_ms   BIGINT       NOT NULL,
    p1_name       VARCHAR(255) NOT NULL,
    p2_name       VARCHAR(255) NOT NULL,
    p1_score      INTEGER      NOT NULL,
    p2_score      INTEGER      NOT NULL,
    frames        INTEGER      NOT NULL,
    frames_dir    VARCHAR(1024) NOT NULL,
    video_path    VARCHAR(1024) NOT NULL,
    delivered     BOOLEAN      NOT NULL
)`
