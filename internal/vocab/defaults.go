package vocab

// Default returns the built-in vocabulary: four status categories, five
// priority levels, and relative due-date terms in English, Chinese, and
// Spanish. User configuration merges over this; it never replaces it
// wholesale, so a partial config always leaves a working vocabulary.
func Default() *Vocabulary {
	statuses := []StatusEntry{
		{
			Key:         StatusOpen,
			DisplayName: "Open",
			Aliases:     []string{"todo", "to do", "pending", "not done", "incomplete", "未完成", "待办", "pendiente", "por hacer"},
			Symbols:     []string{" "},
			Order:       1,
		},
		{
			Key:         StatusInProgress,
			DisplayName: "In Progress",
			Aliases:     []string{"in progress", "doing", "started", "ongoing", "wip", "进行中", "正在做", "en progreso", "en curso"},
			Symbols:     []string{"/"},
			Order:       2,
		},
		{
			Key:         StatusCompleted,
			DisplayName: "Completed",
			Aliases:     []string{"done", "complete", "finished", "closed", "已完成", "完成", "hecho", "terminado", "completado"},
			Symbols:     []string{"x", "X"},
			Order:       3,
		},
		{
			Key:         StatusCancelled,
			DisplayName: "Cancelled",
			Aliases:     []string{"canceled", "dropped", "abandoned", "wont do", "won't do", "已取消", "取消", "cancelado"},
			Symbols:     []string{"-"},
			Order:       4,
		},
	}

	priorities := map[string]int{
		"highest": 1, "urgent": 1, "critical": 1, "最高": 1, "紧急": 1, "urgente": 1, "crítica": 1,
		"high": 2, "important": 2, "高": 2, "重要": 2, "alta": 2, "importante": 2,
		"medium": 3, "normal": 3, "中": 3, "中等": 3, "media": 3,
		"low": 4, "低": 4, "baja": 4,
		"lowest": 5, "最低": 5, "mínima": 5, "minima": 5,
	}

	dueTerms := map[string]RelTerm{
		"today": RelToday, "今天": RelToday, "今日": RelToday, "hoy": RelToday,
		"tomorrow": RelTomorrow, "明天": RelTomorrow, "mañana": RelTomorrow,
		"yesterday": RelYesterday, "昨天": RelYesterday, "ayer": RelYesterday,
		"overdue": RelOverdue, "late": RelOverdue, "past due": RelOverdue, "逾期": RelOverdue, "过期": RelOverdue, "atrasado": RelOverdue, "vencido": RelOverdue,
		"this week": RelThisWeek, "本周": RelThisWeek, "这周": RelThisWeek, "esta semana": RelThisWeek,
		"next week": RelNextWeek, "下周": RelNextWeek, "próxima semana": RelNextWeek, "proxima semana": RelNextWeek,
		"this month": RelThisMonth, "本月": RelThisMonth, "este mes": RelThisMonth,
		"soon": RelSoon, "尽快": RelSoon, "pronto": RelSoon,
	}

	// Broad list: articles, prepositions, conjunctions, pronouns. Used only
	// to clean keyword candidates, never for vagueness classification.
	stopWords := []string{
		"a", "an", "the", "of", "for", "to", "in", "on", "at", "by", "with",
		"and", "or", "is", "are", "was", "be", "been", "this", "that",
		"these", "those", "it", "its", "about", "from", "as", "into",
		"我的", "的", "了", "在", "是", "和", "与", "把", "被",
		"el", "la", "los", "las", "un", "una", "de", "del", "en", "con",
		"por", "para", "y", "o", "es", "son",
	}

	// Narrow list: question words and generic verbs/nouns. Used only to
	// classify a query as vague. Kept disjoint from stopWords.
	genericWords := []string{
		"what", "which", "when", "how", "why", "who", "should", "shall",
		"can", "could", "do", "does", "need", "want", "must", "have",
		"i", "me", "my", "we", "you",
		"task", "tasks", "thing", "things", "stuff", "item", "items",
		"work", "todo", "todos", "list", "show", "tell", "give", "any",
		"some", "next", "now",
		"什么", "哪些", "怎么", "为什么", "谁", "应该", "要", "做", "需要",
		"我", "我们", "任务", "事情", "东西", "现在",
		"qué", "que", "cuál", "cual", "cuándo", "cuando", "cómo", "como",
		"debo", "debería", "puedo", "hacer", "necesito", "quiero",
		"yo", "mi", "mis", "tarea", "tareas", "cosa", "cosas", "ahora",
	}

	return New(statuses, priorities, dueTerms, stopWords, genericWords)
}
