package persona

// Demographics 描述一个数字孪生的人口统计字段，每一项都可能缺失。
type Demographics struct {
	Gender           string `json:"gender,omitempty"`
	Age              string `json:"age,omitempty"`
	MaritalStatus    string `json:"marital_status,omitempty"`
	Income           string `json:"income,omitempty"`
	EmploymentStatus string `json:"employment_status,omitempty"`
}

// Record is one survey-derived digital twin.
type Record struct {
	ID           string       `json:"id"`
	Demographics Demographics `json:"demographics"`
	Tags         []string     `json:"tags"`
	Summary      string       `json:"summary"`
	Embedding    []float64    `json:"embedding"`
}

// Card is the persona view exposed to clients, without the embedding.
type Card struct {
	ID           string       `json:"pid"`
	Demographics Demographics `json:"demographics"`
	Tags         []string     `json:"tags"`
	Summary      string       `json:"summary"`
}

// Card strips the embedding from the record.
func (r Record) Card() Card {
	return Card{
		ID:           r.ID,
		Demographics: r.Demographics,
		Tags:         append([]string(nil), r.Tags...),
		Summary:      r.Summary,
	}
}

func (r Record) clone() Record {
	r.Tags = append([]string(nil), r.Tags...)
	r.Embedding = append([]float64(nil), r.Embedding...)
	return r
}
