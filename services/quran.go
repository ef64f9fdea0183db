package services

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ChapterCount is the number of chapters in the source text.
const ChapterCount = 114

// surahAyahCounts holds the canonical verse count per chapter, indexed by
// chapter number minus one.
var surahAyahCounts = [ChapterCount]int{
	7, 286, 200, 176, 120, 165, 206, 75, 129, 109,
	123, 111, 43, 52, 99, 128, 111, 110, 98, 135,
	112, 78, 118, 64, 77, 227, 93, 88, 69, 60,
	34, 30, 73, 54, 45, 83, 182, 88, 75, 85,
	54, 53, 89, 59, 37, 35, 38, 29, 18, 45,
	60, 49, 62, 55, 78, 96, 29, 22, 24, 13,
	14, 11, 11, 18, 12, 12, 30, 52, 52, 44,
	28, 28, 20, 56, 40, 31, 50, 40, 46, 42,
	29, 19, 36, 25, 22, 17, 19, 26, 30, 20,
	15, 21, 11, 8, 8, 19, 5, 8, 8, 11,
	11, 8, 3, 9, 5, 4, 7, 3, 6, 3,
	5, 4, 5, 6,
}

// QuranMetadata resolves chapter metadata. The embedded canonical table
// answers verse counts; an optional API client supplies display names and
// revelation type.
type QuranMetadata struct {
	api *QuranAPIService
}

// NewQuranMetadata creates chapter metadata backed by the embedded table,
// with an optional API client for display metadata (may be nil)
func NewQuranMetadata(api *QuranAPIService) *QuranMetadata {
	return &QuranMetadata{api: api}
}

// VerseCount returns how many verses a chapter has
func (m *QuranMetadata) VerseCount(chapter int) (int, error) {
	if chapter < 1 || chapter > ChapterCount {
		return 0, fmt.Errorf("chapter %d out of range", chapter)
	}
	return surahAyahCounts[chapter-1], nil
}

// ChapterInfo returns one chapter's display metadata. Names and the
// revelation type come from the API; without a client, or when the API is
// unreachable, the embedded table still answers the verse count.
func (m *QuranMetadata) ChapterInfo(chapter int) (*ChapterInfo, error) {
	if chapter < 1 || chapter > ChapterCount {
		return nil, fmt.Errorf("chapter %d out of range", chapter)
	}
	if m.api != nil {
		info, err := m.api.GetChapter(chapter)
		if err == nil {
			return info, nil
		}
		log.Printf("Chapter %d metadata fetch failed, serving embedded counts: %v", chapter, err)
	}
	return &ChapterInfo{Number: chapter, NumberOfAyahs: surahAyahCounts[chapter-1]}, nil
}

// ChapterCount returns the number of chapters in the collection
func (m *QuranMetadata) ChapterCount() int {
	return ChapterCount
}

// TotalAyahs returns the total number of verses across all chapters
func (m *QuranMetadata) TotalAyahs() int {
	total := 0
	for _, c := range surahAyahCounts {
		total += c
	}
	return total
}

// QuranAPIService fetches chapter metadata from the Al-Quran Cloud API
type QuranAPIService struct {
	baseURL string
	client  *http.Client
}

// ChapterInfo represents one chapter's metadata from the API
type ChapterInfo struct {
	Number         int    `json:"number"`
	Name           string `json:"name"`
	EnglishName    string `json:"englishName"`
	NumberOfAyahs  int    `json:"numberOfAyahs"`
	RevelationType string `json:"revelationType"`
}

type chapterResponse struct {
	Code   int         `json:"code"`
	Status string      `json:"status"`
	Data   ChapterInfo `json:"data"`
}

// NewQuranAPIService creates a new Al-Quran Cloud API client
func NewQuranAPIService(baseURL string) *QuranAPIService {
	if baseURL == "" {
		baseURL = "https://api.alquran.cloud/v1"
	}
	return &QuranAPIService{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetChapter fetches one chapter's metadata
func (s *QuranAPIService) GetChapter(number int) (*ChapterInfo, error) {
	url := fmt.Sprintf("%s/surah/%d", s.baseURL, number)

	resp, err := s.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chapter from API: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quran API returned status %d", resp.StatusCode)
	}

	var chResp chapterResponse
	if err := json.NewDecoder(resp.Body).Decode(&chResp); err != nil {
		return nil, fmt.Errorf("failed to decode chapter response: %w", err)
	}

	if chResp.Code != http.StatusOK {
		return nil, fmt.Errorf("quran API returned code %d: %s", chResp.Code, chResp.Status)
	}
	return &chResp.Data, nil
}
