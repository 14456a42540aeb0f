package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cherites0610/welfare-pipeline/internal/common"
	"github.com/cherites0610/welfare-pipeline/internal/models"
)

func TestSnapshotWriter_Write(t *testing.T) {
	dir := t.TempDir()
	writer := NewSnapshotWriter(dir, common.GetLogger())

	records := []models.CrawlRecord{
		{City: "臺北市", URL: "https://example.gov.tw/1", Title: "育兒津貼", Date: "2025-05-20", Content: "內容"},
	}

	path, err := writer.Write("臺北市", records)
	require.NoError(t, err)
	assert.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "育兒津貼")
}

func TestSideLog_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enriched.json")
	log := NewSideLog(path, common.GetLogger())

	first := models.EnrichedRecord{
		CrawlRecord: models.CrawlRecord{City: "高雄市", URL: "https://example.gov.tw/a", Title: "老人假牙補助"},
		Summary:     "補助說明",
		Categories:  []string{"老人福利"},
		Identities:  []string{"65歲以上"},
	}
	second := models.EnrichedRecord{
		CrawlRecord: models.CrawlRecord{City: "高雄市", URL: "https://example.gov.tw/b", Title: "急難救助"},
		Summary:     models.NoSummary,
		Categories:  []string{models.DefaultCategory},
	}

	require.NoError(t, log.Append(first))
	require.NoError(t, log.Append(second))

	records, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "老人假牙補助", records[0].Title)
	assert.Equal(t, models.NoSummary, records[1].Summary)
}

func TestSideLog_ReadMissingFile(t *testing.T) {
	log := NewSideLog(filepath.Join(t.TempDir(), "missing.json"), common.GetLogger())

	records, err := log.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}
