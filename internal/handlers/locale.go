package handlers

import (
	"net/http"

	"golang.org/x/text/language"

	"github.com/tomoya0318/PrefTrend/internal/platform/requestctx"
)

// supportedLocales lists the number formats the dashboard renders; the first is the fallback.
var supportedLocales = []language.Tag{language.Japanese, language.English}

// LocaleMiddleware negotiates Accept-Language against the supported locales and stores the match on the context.
func LocaleMiddleware() func(http.Handler) http.Handler {
	matcher := language.NewMatcher(supportedLocales)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag := supportedLocales[0]
			if header := r.Header.Get("Accept-Language"); header != "" {
				if prefs, _, err := language.ParseAcceptLanguage(header); err == nil && len(prefs) > 0 {
					_, idx, confidence := matcher.Match(prefs...)
					if confidence != language.No {
						tag = supportedLocales[idx]
					}
				}
			}
			w.Header().Set("Content-Language", tag.String())
			next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), tag)))
		})
	}
}
