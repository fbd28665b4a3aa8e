package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"encoding/json"
	"sync"
	"unsafe"

	"github.com/edsonmartins/mepassa/internal/engine"
	"github.com/sirupsen/logrus"
)

func main() {} // required for c-shared build mode

type instance struct {
	eng    *engine.Engine
	cancel context.CancelFunc
}

var (
	instances      = make(map[int]*instance)
	nextInstanceID = 1
	instancesMu    sync.Mutex
)

//export mepassa_new
func mepassa_new(cDataDir, cRegistryURL, cOfflineURL *C.char) C.int {
	cfg := engine.Config{
		DataDir:         C.GoString(cDataDir),
		RegistryURL:     C.GoString(cRegistryURL),
		OfflineStoreURL: C.GoString(cOfflineURL),
	}

	eng, err := engine.New(cfg)
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "mepassa_new", "error": err}).Error("failed to construct engine")
		return -1
	}

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	instancesMu.Lock()
	defer instancesMu.Unlock()
	id := nextInstanceID
	nextInstanceID++
	instances[id] = &instance{eng: eng, cancel: cancel}
	return C.int(id)
}

//export mepassa_kill
func mepassa_kill(handle C.int) {
	instancesMu.Lock()
	inst, ok := instances[int(handle)]
	if ok {
		delete(instances, int(handle))
	}
	instancesMu.Unlock()

	if !ok {
		return
	}
	inst.cancel()
	if err := inst.eng.Close(); err != nil {
		logrus.WithFields(logrus.Fields{"function": "mepassa_kill", "error": err}).Warn("error closing engine")
	}
}

func lookup(handle C.int) (*engine.Engine, bool) {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	inst, ok := instances[int(handle)]
	if !ok {
		return nil, false
	}
	return inst.eng, true
}

//export mepassa_send_text
func mepassa_send_text(handle C.int, cTo, cContent *C.char) *C.char {
	eng, ok := lookup(handle)
	if !ok {
		return nil
	}
	id, err := eng.SendText(context.Background(), C.GoString(cTo), C.GoString(cContent))
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "mepassa_send_text", "error": err}).Warn("send_text failed")
		return nil
	}
	return C.CString(id)
}

//export mepassa_list_conversations
func mepassa_list_conversations(handle C.int) *C.char {
	eng, ok := lookup(handle)
	if !ok {
		return nil
	}
	convs, err := eng.ListConversations()
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "mepassa_list_conversations", "error": err}).Warn("list_conversations failed")
		return nil
	}
	return marshalOrNil(convs)
}

//export mepassa_get_messages
func mepassa_get_messages(handle C.int, cConversationID *C.char, limit C.int) *C.char {
	eng, ok := lookup(handle)
	if !ok {
		return nil
	}
	msgs, err := eng.GetMessages(C.GoString(cConversationID), int(limit), nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "mepassa_get_messages", "error": err}).Warn("get_messages failed")
		return nil
	}
	return marshalOrNil(msgs)
}

//export mepassa_mark_read
func mepassa_mark_read(handle C.int, cConversationID *C.char) C.int {
	eng, ok := lookup(handle)
	if !ok {
		return -1
	}
	if _, err := eng.MarkRead(C.GoString(cConversationID)); err != nil {
		logrus.WithFields(logrus.Fields{"function": "mepassa_mark_read", "error": err}).Warn("mark_read failed")
		return -1
	}
	return 0
}

//export mepassa_connect_peer
func mepassa_connect_peer(handle C.int, cPeerID *C.char) *C.char {
	eng, ok := lookup(handle)
	if !ok {
		return nil
	}
	state, err := eng.ConnectPeer(C.GoString(cPeerID))
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "mepassa_connect_peer", "error": err}).Warn("connect_peer failed")
		return nil
	}
	return C.CString(state.String())
}

//export mepassa_bootstrap
func mepassa_bootstrap(handle C.int, cPeerID, cAddress *C.char) C.int {
	eng, ok := lookup(handle)
	if !ok {
		return -1
	}
	if _, err := eng.Bootstrap(bootstrapNode(C.GoString(cPeerID), C.GoString(cAddress))); err != nil {
		logrus.WithFields(logrus.Fields{"function": "mepassa_bootstrap", "error": err}).Warn("bootstrap failed")
		return -1
	}
	return 0
}

//export mepassa_free_string
func mepassa_free_string(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func marshalOrNil(v any) *C.char {
	b, err := json.Marshal(v)
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "marshalOrNil", "error": err}).Error("json marshal failed")
		return nil
	}
	return C.CString(string(b))
}
