package models

// All lists every persisted entity, in migration order.
func All() []any {
	return []any{
		&Page{},
		&Customer{},
		&CustomerMessage{},
		&KnowledgeType{},
		&PageKnowledgeBinding{},
		&CustomGroup{},
		&Classification{},
		&MiningStatus{},
		&CustomerTypeMessage{},
		&MessageSchedule{},
		&RetargetTier{},
	}
}
