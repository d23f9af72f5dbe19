package utils

// Minimal server-side i18n for the messages shown to participants.
// Survey question text lives in the frontend.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":               "ok",
		"session.resume":          "Please continue from where you left off.",
		"session.expired":         "Your session has expired. Please return to the study page.",
		"session.not_found":       "We could not find your survey session. Please start from the study link.",
		"session.finished":        "This survey session has already finished.",
		"error.validation":        "Please check the highlighted answers.",
		"error.unavailable":       "Your answers could not be saved. Please try again.",
		"error.unauthorized":      "Please start the survey from the study link.",
		"error.rate_limited":      "Too many requests. Please wait a moment.",
		"error.invalid":           "The request could not be processed.",
		"error.insufficient_data": "The survey is temporarily unavailable.",
	},
	"zh": {
		"health.ok":               "好的",
		"session.resume":          "请从上次中断的地方继续。",
		"session.expired":         "您的会话已过期，请返回研究页面。",
		"session.not_found":       "未找到您的问卷会话，请通过研究链接重新开始。",
		"session.finished":        "该问卷会话已结束。",
		"error.validation":        "请检查标出的答案。",
		"error.unavailable":       "答案未能保存，请重试。",
		"error.unauthorized":      "请通过研究链接开始问卷。",
		"error.rate_limited":      "请求过于频繁，请稍候。",
		"error.invalid":           "无法处理该请求。",
		"error.insufficient_data": "问卷暂时不可用。",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}
