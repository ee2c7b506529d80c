package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	ws "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/tlslink/simplejson"
)

func rpcCall(method string, params interface{}, result interface{}, id uint64) error {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+controlAddress+"/rpc", nil)
	if err != nil {
		return err
	}
	jsonStream := ws.NewObjectStream(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rpcConn := jsonrpc2.NewConn(ctx, jsonStream, nil)
	defer rpcConn.Close()

	return rpcConn.Call(ctx, method, params, result, jsonrpc2.PickID(jsonrpc2.ID{Num: id}))
}

// callAndPrint 打印结果或去掉前缀的错误信息
func callAndPrint(method string, params interface{}, id uint64) {
	result := simplejson.New()
	err := rpcCall(method, params, result, id)
	if err != nil {
		fmt.Println(errorMessage(err))
		return
	}
	pretty, _ := result.EncodePretty()
	fmt.Println(string(pretty))
}

func errorMessage(err error) string {
	after, _ := strings.CutPrefix(err.Error(), "jsonrpc2: code 1 message: ")
	return after
}
