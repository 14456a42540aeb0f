package models

// DefaultCategory is assigned when classification yields no whitelisted label.
const DefaultCategory = "其他福利"

// categoryIDs maps the fixed welfare category taxonomy to stable IDs.
// The label set is closed; LLM output not in this map is discarded.
var categoryIDs = map[string]int{
	"兒童及青少年福利": 1,
	"婦女與幼兒福利":  2,
	"老人福利":     3,
	"社會救助福利":   4,
	"其他福利":     5,
}

// identityIDs maps the fixed target-identity taxonomy to stable IDs.
var identityIDs = map[string]int{
	"20歲以下":   1,
	"20歲-65歲": 2,
	"65歲以上":   3,
	"男性":      4,
	"女性":      5,
	"中低收入戶":   6,
	"低收入戶":    7,
	"身心障礙者":   8,
	"原住民":     9,
	"外籍配偶家庭":  10,
	"單親家庭":    11,
}

// locationIDs maps city names used in sites.json to stable location IDs.
var locationIDs = map[string]int{
	"臺北市": 1,
	"新北市": 2,
	"桃園市": 3,
	"臺中市": 4,
	"臺南市": 5,
	"高雄市": 6,
	"基隆市": 7,
	"新竹市": 8,
	"嘉義市": 9,
	"新竹縣": 10,
	"苗栗縣": 11,
	"彰化縣": 12,
	"南投縣": 13,
	"雲林縣": 14,
	"嘉義縣": 15,
	"屏東縣": 16,
	"宜蘭縣": 17,
	"花蓮縣": 18,
	"臺東縣": 19,
	"澎湖縣": 20,
	"金門縣": 21,
	"連江縣": 22,
}

// CategoryIDByName returns the ID for a category label.
func CategoryIDByName(name string) (int, bool) {
	id, ok := categoryIDs[name]
	return id, ok
}

// IdentityIDByName returns the ID for an identity label.
func IdentityIDByName(name string) (int, bool) {
	id, ok := identityIDs[name]
	return id, ok
}

// LocationIDByName returns the ID for a city name.
func LocationIDByName(city string) (int, bool) {
	id, ok := locationIDs[city]
	return id, ok
}

// CategoryNames returns all valid category labels for prompt construction.
func CategoryNames() []string {
	return []string{"兒童及青少年福利", "婦女與幼兒福利", "老人福利", "社會救助福利", "其他福利"}
}

// IdentityNames returns all valid identity labels for prompt construction.
func IdentityNames() []string {
	return []string{"20歲以下", "20歲-65歲", "65歲以上", "男性", "女性", "中低收入戶", "低收入戶", "身心障礙者", "原住民", "外籍配偶家庭", "單親家庭"}
}
