// Package locale holds the user-facing strings of the terminal client in
// English and Uzbek and remembers the selected language.
package locale

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/kv"
	"github.com/Ahmadjon7/UZB-AI/internal/logger"
)

// StorageKey is the single global key the selected language is kept under.
const StorageKey = "language"

// Message keys
const (
	Welcome           = "welcome"
	StartConversation = "startConversation"
	TypeMessage       = "typeMessage"
	You               = "you"
	Assistant         = "assistant"
	Loading           = "loading"
	ErrorOccurred     = "errorOccurred"
	Cancelled         = "cancelled"
	ChatCleared       = "chatCleared"
	ChatSaved         = "chatSaved"
	CannotSaveEmpty   = "cannotSaveEmpty"
	NoHistory         = "noHistory"
	HistoryEntry      = "historyEntry"
	ChatLoaded        = "chatLoaded"
	ChatDeleted       = "chatDeleted"
	NotFound          = "notFound"
	SignInRequired    = "signInRequired"
	SignedInAs        = "signedInAs"
	EmailNotVerified  = "emailNotVerified"
	LanguageChanged   = "languageChanged"
	UnknownLanguage   = "unknownLanguage"
	UnknownCommand    = "unknownCommand"
	Usage             = "usage"
	AccountCreated    = "accountCreated"
	AccountReady      = "accountReady"
	ProfileUpdated    = "profileUpdated"
	PasswordUpdated   = "passwordUpdated"
	PasswordLength    = "passwordLength"
	NotSupported      = "notSupported"
	Busy              = "busy"
	Help              = "help"
	Goodbye           = "goodbye"
)

var translations = map[language.Tag]map[string]string{
	language.English: {
		Welcome:           "Welcome to UZB AI",
		StartConversation: "Start a conversation with the AI assistant by typing a message below.",
		TypeMessage:       "Type your message...",
		You:               "You",
		Assistant:         "AI",
		Loading:           "Loading...",
		ErrorOccurred:     "An error occurred: %v",
		Cancelled:         "Response cancelled",
		ChatCleared:       "Chat cleared",
		ChatSaved:         "Chat saved as %q",
		CannotSaveEmpty:   "Cannot save an empty chat",
		NoHistory:         "No chat history yet",
		HistoryEntry:      "%s  %s  (%d messages)",
		ChatLoaded:        "Loaded %q",
		ChatDeleted:       "Chat deleted",
		NotFound:          "No saved chat with that id",
		SignInRequired:    "Sign in to use chat history",
		SignedInAs:        "Signed in as %s",
		EmailNotVerified:  "Please verify your email before logging in. Check your inbox for a verification link.",
		LanguageChanged:   "Language: English",
		UnknownLanguage:   "Unknown language %q, use en or uz",
		UnknownCommand:    "Unknown command %q",
		Usage:             "Usage: %s",
		AccountCreated:    "Account created. Check %s for a verification link, then sign in with /login",
		AccountReady:      "Account created. Sign in with /login",
		ProfileUpdated:    "Profile updated successfully",
		PasswordUpdated:   "Password updated successfully",
		PasswordLength:    "Password must be at least 6 characters",
		NotSupported:      "Not available for this account",
		Busy:              "Wait for the current response to finish",
		Help:              "Commands: /save [title], /clear, /history, /load <id>, /delete <id>, /lang en|uz, /login <email> <password>, /signup <name> <email> <password>, /logout, /name <display name>, /password <new password>, /quit",
		Goodbye:           "Goodbye",
	},
	language.Uzbek: {
		Welcome:           "UZB AI ga xush kelibsiz",
		StartConversation: "AI yordamchisi bilan suhbatni boshlash uchun quyida xabar yozing.",
		TypeMessage:       "Xabaringizni yozing...",
		You:               "Siz",
		Assistant:         "AI",
		Loading:           "Yuklanmoqda...",
		ErrorOccurred:     "Xatolik yuz berdi: %v",
		Cancelled:         "Javob bekor qilindi",
		ChatCleared:       "Chat tozalandi",
		ChatSaved:         "Suhbat %q nomi bilan saqlandi",
		CannotSaveEmpty:   "Bo'sh suhbatni saqlab bo'lmaydi",
		NoHistory:         "Hali chat tarixi yo'q",
		HistoryEntry:      "%s  %s  (%d ta xabar)",
		ChatLoaded:        "%q yuklandi",
		ChatDeleted:       "Suhbat o'chirildi",
		NotFound:          "Bunday identifikatorli suhbat topilmadi",
		SignInRequired:    "Chat tarixidan foydalanish uchun tizimga kiring",
		SignedInAs:        "%s sifatida kirdingiz",
		EmailNotVerified:  "Kirishdan oldin elektron pochtangizni tasdiqlang. Tasdiqlash havolasi pochtangizga yuborilgan.",
		LanguageChanged:   "Til: O'zbek",
		UnknownLanguage:   "Noma'lum til %q, en yoki uz dan foydalaning",
		UnknownCommand:    "Noma'lum buyruq %q",
		Usage:             "Foydalanish: %s",
		AccountCreated:    "Hisob yaratildi. Tasdiqlash havolasi uchun %s pochtasini tekshiring, so'ng /login bilan kiring",
		AccountReady:      "Hisob yaratildi. /login bilan kiring",
		ProfileUpdated:    "Profil muvaffaqiyatli yangilandi",
		PasswordUpdated:   "Parol muvaffaqiyatli yangilandi",
		PasswordLength:    "Parol kamida 6 ta belgidan iborat bo'lishi kerak",
		NotSupported:      "Bu hisob uchun mavjud emas",
		Busy:              "Joriy javob tugashini kuting",
		Help:              "Buyruqlar: /save [nom], /clear, /history, /load <id>, /delete <id>, /lang en|uz, /login <pochta> <parol>, /signup <ism> <pochta> <parol>, /logout, /name <ism>, /password <yangi parol>, /quit",
		Goodbye:           "Xayr",
	},
}

var (
	supported = []language.Tag{language.English, language.Uzbek}
	matcher   = language.NewMatcher(supported)
	cat       = buildCatalog()
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range translations {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				panic(fmt.Sprintf("locale: %s/%s: %v", tag, key, err))
			}
		}
	}
	return b
}

// Parse resolves a language name such as "uz", "uz-Latn" or "EN" to one of
// the supported languages.
func Parse(s string) (language.Tag, error) {
	t, err := language.Parse(strings.TrimSpace(s))
	if err != nil {
		return language.Und, fmt.Errorf("%w: unknown language %q", chat.ErrValidation, s)
	}
	_, idx, conf := matcher.Match(t)
	if conf == language.No {
		return language.Und, fmt.Errorf("%w: unsupported language %q", chat.ErrValidation, s)
	}
	return supported[idx], nil
}

// Locale is the active language plus its printer.
type Locale struct {
	store kv.Store

	mu      sync.RWMutex
	tag     language.Tag
	printer *message.Printer
}

// Load restores the saved language from store, falling back to fallback and
// then to English. A nil store keeps the choice in memory only.
func Load(ctx context.Context, store kv.Store, fallback string) (*Locale, error) {
	l := &Locale{store: store}
	tag := language.English
	if t, err := Parse(fallback); err == nil {
		tag = t
	}

	if store != nil {
		saved, ok, err := store.Get(ctx, StorageKey)
		if err != nil {
			return nil, fmt.Errorf("%w: read language: %v", chat.ErrStorage, err)
		}
		if ok {
			if t, err := Parse(saved); err == nil {
				tag = t
			} else {
				logger.L.Warn("ignoring saved language", "value", saved)
			}
		}
	}

	l.use(tag)
	return l, nil
}

func (l *Locale) use(tag language.Tag) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tag = tag
	l.printer = message.NewPrinter(tag, message.Catalog(cat))
}

// Set switches language and persists the choice.
func (l *Locale) Set(ctx context.Context, name string) error {
	tag, err := Parse(name)
	if err != nil {
		return err
	}
	if l.store != nil {
		base, _ := tag.Base()
		if err := l.store.Set(ctx, StorageKey, base.String()); err != nil {
			return fmt.Errorf("%w: save language: %v", chat.ErrStorage, err)
		}
	}
	l.use(tag)
	logger.L.Debug("language changed", "language", tag.String())
	return nil
}

// Language returns the active language.
func (l *Locale) Language() language.Tag {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tag
}

// T formats the message stored under key.
func (l *Locale) T(key string, args ...any) string {
	l.mu.RLock()
	p := l.printer
	l.mu.RUnlock()
	return p.Sprintf(key, args...)
}
