package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	domainerrors "github.com/ytakahashi/line-todo-sync/internal/errors"
	"github.com/ytakahashi/line-todo-sync/internal/livesync"
	"github.com/ytakahashi/line-todo-sync/internal/models"
)

// Replier sends LINE reply messages. *messaging_api.MessagingApiAPI implements it.
type Replier interface {
	ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error)
}

// WebhookHandler turns LINE chat commands into session operations.
// Every LINE user id is an owner.
type WebhookHandler struct {
	bot    Replier
	secret string
	hub    *livesync.Hub
	logger *slog.Logger
}

func NewWebhookHandler(bot Replier, channelSecret string, hub *livesync.Hub, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		bot:    bot,
		secret: channelSecret,
		hub:    hub,
		logger: logger,
	}
}

// commandPattern splits "<command> <argument>"; LINE users often type a
// full-width space.
var commandPattern = regexp.MustCompile(`^(\S+?)(?:[\s　]+(.+))?$`)

const (
	postbackDeleteList = "delete_list"
	confirmYes         = "yes"
	confirmNo          = "no"
)

func getUserID(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	default:
		return ""
	}
}

func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	cb, err := webhook.ParseRequest(h.secret, c.Request())
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			h.logger.Warn("invalid webhook signature")
			return c.NoContent(http.StatusBadRequest)
		}
		h.logger.Error("failed to parse webhook request", slog.String("error", err.Error()))
		return c.NoContent(http.StatusInternalServerError)
	}

	ctx := c.Request().Context()
	for _, event := range cb.Events {
		switch e := event.(type) {
		case webhook.MessageEvent:
			if message, ok := e.Message.(webhook.TextMessageContent); ok {
				userID := getUserID(e.Source)
				if err := h.handleTextMessage(ctx, e.ReplyToken, userID, message.Text); err != nil {
					h.logger.Error("failed to handle text message", slog.String("user_id", userID), slog.String("error", err.Error()))
				}
			}
		case webhook.PostbackEvent:
			userID := getUserID(e.Source)
			if err := h.handlePostback(ctx, e.ReplyToken, userID, e.Postback.Data); err != nil {
				h.logger.Error("failed to handle postback", slog.String("user_id", userID), slog.String("error", err.Error()))
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) handleTextMessage(ctx context.Context, replyToken, userID, text string) error {
	matches := commandPattern.FindStringSubmatch(strings.TrimSpace(text))
	if matches == nil {
		return nil
	}
	command, arg := matches[1], strings.TrimSpace(matches[2])

	sess, err := h.hub.Session(userID)
	if err != nil {
		return err
	}

	switch command {
	case "一覧":
		return h.replyMessage(replyToken, renderView(sess.View()))
	case "作成":
		return h.createList(ctx, replyToken, sess, arg)
	case "開く":
		return h.openList(ctx, replyToken, sess, arg)
	case "閉じる":
		sess.ClearSelection()
		return h.replyMessage(replyToken, "リストを閉じました。")
	case "追加":
		return h.addItem(ctx, replyToken, sess, arg)
	case "完了":
		return h.toggleItem(ctx, replyToken, sess, arg)
	case "削除":
		return h.deleteItem(ctx, replyToken, sess, arg)
	case "名前":
		return h.renameList(ctx, replyToken, sess, arg)
	case "リスト削除":
		return h.askDeleteListConfirmation(replyToken, sess)
	case "ヘルプ":
		return h.replyMessage(replyToken, helpText)
	}

	// 認識できないメッセージには応答しない
	return nil
}

func (h *WebhookHandler) createList(ctx context.Context, replyToken string, sess *livesync.Session, name string) error {
	listID, err := sess.CreateList(ctx, name)
	if err != nil {
		return h.replyError(replyToken, "リストの作成に失敗しました。", err)
	}
	if err := sess.Select(ctx, listID); err != nil {
		return h.replyError(replyToken, "リストを開けませんでした。", err)
	}
	return h.replyMessage(replyToken, fmt.Sprintf("✅ リスト「%s」を作成して開きました。", strings.TrimSpace(name)))
}

func (h *WebhookHandler) openList(ctx context.Context, replyToken string, sess *livesync.Session, arg string) error {
	view := sess.View()
	n, ok := parseIndex(arg, len(view.Lists))
	if !ok {
		return h.replyMessage(replyToken, "リストの番号を指定してください。\n例: 開く 1")
	}
	list := view.Lists[n]

	if err := sess.Select(ctx, list.ID); err != nil {
		return h.replyError(replyToken, "リストを開けませんでした。", err)
	}
	return h.replyMessage(replyToken, fmt.Sprintf("📂 リスト「%s」を開きました。", list.Name))
}

func (h *WebhookHandler) addItem(ctx context.Context, replyToken string, sess *livesync.Session, name string) error {
	list, ok := sess.View().SelectedList()
	if !ok {
		return h.replyMessage(replyToken, noSelectionText)
	}

	if _, err := sess.CreateItem(ctx, list.ID, name); err != nil {
		return h.replyError(replyToken, "項目の追加に失敗しました。", err)
	}
	return h.replyMessage(replyToken, fmt.Sprintf("✅ 「%s」に「%s」を追加しました。", list.Name, strings.TrimSpace(name)))
}

func (h *WebhookHandler) toggleItem(ctx context.Context, replyToken string, sess *livesync.Session, arg string) error {
	view := sess.View()
	list, ok := view.SelectedList()
	if !ok {
		return h.replyMessage(replyToken, noSelectionText)
	}
	n, ok := parseIndex(arg, len(view.Items))
	if !ok {
		return h.replyMessage(replyToken, "項目の番号を指定してください。\n例: 完了 1")
	}
	item := view.Items[n]

	status, err := sess.ToggleItem(ctx, list.ID, item.ID)
	if err != nil {
		return h.replyError(replyToken, "項目の更新に失敗しました。", err)
	}
	if status.Done() {
		return h.replyMessage(replyToken, fmt.Sprintf("🎉 「%s」を完了しました！", item.Name))
	}
	return h.replyMessage(replyToken, fmt.Sprintf("↩️ 「%s」を未完了に戻しました。", item.Name))
}

func (h *WebhookHandler) deleteItem(ctx context.Context, replyToken string, sess *livesync.Session, arg string) error {
	view := sess.View()
	list, ok := view.SelectedList()
	if !ok {
		return h.replyMessage(replyToken, noSelectionText)
	}
	n, ok := parseIndex(arg, len(view.Items))
	if !ok {
		return h.replyMessage(replyToken, "項目の番号を指定してください。\n例: 削除 1")
	}
	item := view.Items[n]

	if err := sess.DeleteItem(ctx, list.ID, item.ID); err != nil {
		return h.replyError(replyToken, "項目の削除に失敗しました。", err)
	}
	return h.replyMessage(replyToken, fmt.Sprintf("🗑️ 「%s」を削除しました。", item.Name))
}

func (h *WebhookHandler) renameList(ctx context.Context, replyToken string, sess *livesync.Session, name string) error {
	list, ok := sess.View().SelectedList()
	if !ok {
		return h.replyMessage(replyToken, noSelectionText)
	}

	if err := sess.RenameList(ctx, list.ID, name); err != nil {
		return h.replyError(replyToken, "名前の変更に失敗しました。", err)
	}
	return h.replyMessage(replyToken, fmt.Sprintf("✏️ 「%s」を「%s」に変更しました。", list.Name, strings.TrimSpace(name)))
}

func (h *WebhookHandler) askDeleteListConfirmation(replyToken string, sess *livesync.Session) error {
	list, ok := sess.View().SelectedList()
	if !ok {
		return h.replyMessage(replyToken, noSelectionText)
	}

	quickReply := &messaging_api.QuickReply{
		Items: []messaging_api.QuickReplyItem{
			{
				Action: &messaging_api.PostbackAction{
					Label:       "はい",
					Data:        fmt.Sprintf("%s:%s:%s", postbackDeleteList, confirmYes, list.ID),
					DisplayText: "はい",
				},
			},
			{
				Action: &messaging_api.PostbackAction{
					Label:       "いいえ",
					Data:        fmt.Sprintf("%s:%s:%s", postbackDeleteList, confirmNo, list.ID),
					DisplayText: "いいえ",
				},
			},
		},
	}

	message := &messaging_api.TextMessage{
		Text:       fmt.Sprintf("⚠️ リスト「%s」と項目%d件をすべて削除しますか？", list.Name, len(sess.View().Items)),
		QuickReply: quickReply,
	}

	_, err := h.bot.ReplyMessage(
		&messaging_api.ReplyMessageRequest{
			ReplyToken: replyToken,
			Messages:   []messaging_api.MessageInterface{message},
		},
	)

	return err
}

func (h *WebhookHandler) handlePostback(ctx context.Context, replyToken, userID, data string) error {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != postbackDeleteList {
		return nil
	}
	confirmation, listID := parts[1], parts[2]

	if confirmation != confirmYes {
		return h.replyMessage(replyToken, "リストの削除をキャンセルしました。")
	}

	sess, err := h.hub.Session(userID)
	if err != nil {
		return err
	}
	if err := sess.DeleteList(ctx, listID); err != nil {
		return h.replyError(replyToken, "リストの削除に失敗しました。", err)
	}
	return h.replyMessage(replyToken, "🗑️ リストを削除しました。")
}

// parseIndex converts a 1-based number, half- or full-width, to an index below n.
func parseIndex(arg string, n int) (int, bool) {
	arg = strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return '0' + (r - '０')
		}
		return r
	}, arg)

	i, err := strconv.Atoi(arg)
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

func renderView(v livesync.View) string {
	if len(v.Lists) == 0 {
		return "リストはありません。\n例: 作成 買い物"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📝 リスト一覧 (%d件)\n", len(v.Lists))
	for i, l := range v.Lists {
		marker := "  "
		if l.ID == v.SelectedListID {
			marker = "▶ "
		}
		fmt.Fprintf(&b, "\n%s%d. %s", marker, i+1, l.Name)
	}

	list, ok := v.SelectedList()
	if !ok {
		return b.String()
	}
	fmt.Fprintf(&b, "\n\n📂 %s (%d件)", list.Name, len(v.Items))
	for i, it := range v.Items {
		fmt.Fprintf(&b, "\n%s %d. %s", statusMark(it.Status), i+1, it.Name)
	}
	return b.String()
}

func statusMark(s models.Status) string {
	switch s {
	case models.StatusCompleted:
		return "☑"
	case models.StatusInProgress:
		return "▷"
	default:
		return "☐"
	}
}

// replyError logs err and replies with msg, or with a more specific message
// for errors the user can fix.
func (h *WebhookHandler) replyError(replyToken, msg string, err error) error {
	switch domainerrors.CodeOf(err) {
	case domainerrors.CodeValidation:
		msg = "名前を入力してください。"
	case domainerrors.CodeNotFound:
		msg = "リストまたは項目が見つかりませんでした。"
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
	}
	return h.replyMessage(replyToken, msg)
}

func (h *WebhookHandler) replyMessage(replyToken, text string) error {
	message := &messaging_api.TextMessage{
		Text: text,
	}

	_, err := h.bot.ReplyMessage(
		&messaging_api.ReplyMessageRequest{
			ReplyToken: replyToken,
			Messages:   []messaging_api.MessageInterface{message},
		},
	)
	if err != nil {
		h.logger.Error("failed to send reply message", slog.String("error", err.Error()))
	}
	return err
}

const noSelectionText = "先にリストを開いてください。\n例: 開く 1"

const helpText = `📝 リストBot 使い方

📋 リスト一覧を表示:
・一覧

🆕 リストを作成して開く:
・作成 <名前>
・例: 作成 買い物

📂 リストを開く / 閉じる:
・開く <番号>
・閉じる

✅ 開いているリストの項目:
・追加 <名前>
・完了 <番号> (もう一度で未完了に戻る)
・削除 <番号>

✏️ 開いているリストの名前を変更:
・名前 <新しい名前>

🗑️ 開いているリストを項目ごと削除:
・リスト削除

❓ ヘルプ表示:
・ヘルプ`
