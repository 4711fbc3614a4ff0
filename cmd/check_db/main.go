// check_db verifies the invariants of the persisted board logs: every board's
// op log must be gapless from 1, dedup keys must be unique, and every
// checkpoint must point inside the log. Run it against a live database when a
// board looks wrong.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Database connection
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_SSLMODE"),
		os.Getenv("DB_TIMEZONE"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	fmt.Println("✅ Connected to database")
	fmt.Println()

	problems := 0

	// 1. Gapless sequence per board: max(seq) must equal count(*).
	type seqCheck struct {
		BoardID string
		MaxSeq  int64
		Count   int64
	}
	var seqChecks []seqCheck
	if err := db.Raw(`
		SELECT board_id, MAX(server_seq) AS max_seq, COUNT(*) AS count
		FROM ops GROUP BY board_id
	`).Scan(&seqChecks).Error; err != nil {
		log.Fatal("Failed to check sequences:", err)
	}
	for _, c := range seqChecks {
		if c.MaxSeq != c.Count {
			fmt.Printf("🚨 Board %s: log has gaps (max seq %d, %d ops)\n", c.BoardID, c.MaxSeq, c.Count)
			problems++
		}
	}
	fmt.Printf("📊 Checked %d boards for sequence gaps\n", len(seqChecks))

	// 2. Dedup key uniqueness. The unique index should make this impossible;
	// a hit here means the index is missing or was dropped.
	type dupCheck struct {
		BoardID   string
		ClientID  string
		ClientSeq int64
		Count     int64
	}
	var dups []dupCheck
	if err := db.Raw(`
		SELECT board_id, client_id, client_seq, COUNT(*) AS count
		FROM ops GROUP BY board_id, client_id, client_seq HAVING COUNT(*) > 1
	`).Scan(&dups).Error; err != nil {
		log.Fatal("Failed to check dedup keys:", err)
	}
	for _, d := range dups {
		fmt.Printf("🚨 Board %s: client %s seq %d appears %d times\n", d.BoardID, d.ClientID, d.ClientSeq, d.Count)
		problems++
	}
	fmt.Printf("📊 Checked dedup keys (%d duplicates)\n", len(dups))

	// 3. Checkpoints must point at an existing sequence.
	type danglingCheck struct {
		CheckpointID string
		BoardID      string
		AtServerSeq  int64
	}
	var dangling []danglingCheck
	if err := db.Raw(`
		SELECT c.checkpoint_id, c.board_id, c.at_server_seq
		FROM checkpoints c
		LEFT JOIN ops o ON o.board_id = c.board_id AND o.server_seq = c.at_server_seq
		WHERE o.id IS NULL
	`).Scan(&dangling).Error; err != nil {
		log.Fatal("Failed to check checkpoints:", err)
	}
	for _, d := range dangling {
		fmt.Printf("🚨 Checkpoint %s on board %s points at missing seq %d\n", d.CheckpointID, d.BoardID, d.AtServerSeq)
		problems++
	}
	fmt.Printf("📊 Checked checkpoints (%d dangling)\n", len(dangling))

	// 4. Snapshots must not be ahead of the log.
	type aheadCheck struct {
		BoardID     string
		AtServerSeq int64
		MaxSeq      int64
	}
	var ahead []aheadCheck
	if err := db.Raw(`
		SELECT s.board_id, s.at_server_seq, m.max_seq
		FROM snapshots s
		JOIN (SELECT board_id, MAX(server_seq) AS max_seq FROM ops GROUP BY board_id) m
		  ON m.board_id = s.board_id
		WHERE s.at_server_seq > m.max_seq
	`).Scan(&ahead).Error; err != nil {
		log.Fatal("Failed to check snapshots:", err)
	}
	for _, a := range ahead {
		fmt.Printf("🚨 Board %s: snapshot at seq %d is ahead of the log (max %d)\n", a.BoardID, a.AtServerSeq, a.MaxSeq)
		problems++
	}
	fmt.Printf("📊 Checked snapshots (%d ahead of log)\n", len(ahead))

	fmt.Println()
	if problems > 0 {
		fmt.Printf("🚨 Found %d problems\n", problems)
		os.Exit(1)
	}
	fmt.Println("✅ All board logs are consistent")
}
