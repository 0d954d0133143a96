package domain

// UnknownPrefectureName labels a selected id missing from the reference list.
const UnknownPrefectureName = "Unknown Prefecture"

// Prefecture is one entry of the reference list served by the statistics API.
type Prefecture struct {
	ID   int    `json:"prefCode"`
	Name string `json:"prefName"`
}

// PrefectureNames indexes prefectures by id.
func PrefectureNames(prefectures []Prefecture) map[int]string {
	names := make(map[int]string, len(prefectures))
	for _, pref := range prefectures {
		names[pref.ID] = pref.Name
	}
	return names
}
