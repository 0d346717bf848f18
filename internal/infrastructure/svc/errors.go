package svc

import "errors"

// ErrNoPairs 错误：没有配置任何交易对
var ErrNoPairs = errors.New("no trading pairs configured")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
