package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrSerialTimeout)
	suite.NotNil(err)
	suite.Equal(ErrSerialTimeout, err.Code)
	suite.Equal("手控器应答超时", err.Message)
	suite.Empty(err.Details)

	// 多个详情
	err = New(ErrFraming, "缺少结束符", "收到 3 字节")
	suite.Equal("缺少结束符; 收到 3 字节", err.Details)
}

// 测试格式化错误创建
func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrProtocol, "命令 %q 应答 %q", "J", "7#")
	suite.Equal(ErrProtocol, err.Code)
	suite.Equal(`命令 "J" 应答 "7#"`, err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("read /dev/ttyUSB0: input/output error")
	wrappedErr := Wrap(originalErr, ErrSerialPortRead)
	suite.Equal(ErrSerialPortRead, wrappedErr.Code)
	suite.Equal(originalErr.Error(), wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	suite.Nil(Wrap(nil, ErrUnknown))

	// 已有AppError保留原始错误码
	appErr := New(ErrNotConnected)
	wrappedAppErr := Wrap(appErr, ErrUnknown, "获取位置")
	suite.Equal(ErrNotConnected, wrappedAppErr.Code)
	suite.Contains(wrappedAppErr.Details, "获取位置")
}

// 测试格式化错误包装
func (suite *ErrorsTestSuite) TestWrapf() {
	originalErr := errors.New("no such file or directory")
	wrappedErr := Wrapf(originalErr, ErrSerialPortOpen, "打开 %s", "/dev/ttyUSB0")
	suite.Equal(ErrSerialPortOpen, wrappedErr.Code)
	suite.Equal("打开 /dev/ttyUSB0", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)
}

// 测试错误码判断
func (suite *ErrorsTestSuite) TestIs() {
	err := New(ErrPassthrough)
	suite.True(Is(err, ErrPassthrough))
	suite.False(Is(err, ErrProtocol))
	suite.False(Is(nil, ErrPassthrough))
	suite.False(Is(errors.New("标准错误"), ErrUnknown))

	// fmt.Errorf包装后仍可识别
	wrapped := fmt.Errorf("goto: %w", New(ErrSerialTimeout))
	suite.True(Is(wrapped, ErrSerialTimeout))
	suite.Equal(ErrSerialTimeout, GetCode(wrapped))

	// 标准库errors.Is按错误码比较
	suite.True(errors.Is(wrapped, New(ErrSerialTimeout)))
	suite.False(errors.Is(wrapped, New(ErrFraming)))
}

// 测试获取错误码
func (suite *ErrorsTestSuite) TestGetCode() {
	suite.Equal(ErrTokenExpired, GetCode(New(ErrTokenExpired)))
	suite.Equal(ErrUnknown, GetCode(errors.New("标准错误")))
	suite.Equal(ErrorCode(0), GetCode(nil))
}

// 测试错误消息
func (suite *ErrorsTestSuite) TestError() {
	err := &AppError{
		Code:    ErrNotConnected,
		Message: "手控器未连接",
	}
	suite.Equal("[3004] 手控器未连接", err.Error())

	err.Details = "state=disconnected"
	suite.Equal("[3004] 手控器未连接: state=disconnected", err.Error())
}

func (suite *ErrorsTestSuite) TestUnwrap() {
	originalErr := errors.New("原始错误")
	suite.Equal(originalErr, Wrap(originalErr, ErrUnknown).Unwrap())
	suite.Nil(New(ErrUnknown).Unwrap())
}

// 测试WithDetails和WithCause
func (suite *ErrorsTestSuite) TestWithDetailsAndCause() {
	err := New(ErrSerialPortWrite).WithDetails("写入0字节")
	suite.Equal("写入0字节", err.Details)

	cause := errors.New("broken pipe")
	err2 := New(ErrSerialPortWrite).WithCause(cause)
	suite.Equal(cause, err2.Cause)
	suite.Equal("broken pipe", err2.Details)

	// 保留原有Details
	err3 := New(ErrSerialPortWrite, "写入命令").WithCause(cause)
	suite.Equal("写入命令", err3.Details)
}

// 测试HTTP状态码映射
func (suite *ErrorsTestSuite) TestHTTPStatus() {
	testCases := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrInvalidParam, 400},
		{ErrNotFound, 404},
		{ErrPermissionDenied, 403},
		{ErrSerialTimeout, 504},
		{ErrNotConnected, 409},
		{ErrFraming, 502},
		{ErrProtocol, 502},
		{ErrPassthrough, 502},
		{ErrTokenInvalid, 401},
		{ErrDatabaseConnect, 503},
		{ErrSerialPortOpen, 500},
		{ErrUnknown, 500},
	}

	for _, tc := range testCases {
		err := New(tc.code)
		suite.Equal(tc.expected, err.HTTPStatus(), "错误码 %d 应该返回HTTP状态码 %d", tc.code, tc.expected)
	}
}

// 测试可重试判断
func (suite *ErrorsTestSuite) TestIsRetryable() {
	for _, code := range []ErrorCode{ErrTimeout, ErrSerialTimeout, ErrWebSocketConnect, ErrDatabaseConnect} {
		suite.True(IsRetryable(New(code)), "错误码 %d 应该是可重试的", code)
	}
	for _, code := range []ErrorCode{ErrFraming, ErrProtocol, ErrNotConnected} {
		suite.False(IsRetryable(New(code)), "错误码 %d 不应该是可重试的", code)
	}
	suite.False(IsRetryable(nil))
}

// 测试严重错误判断
func (suite *ErrorsTestSuite) TestIsCritical() {
	for _, code := range []ErrorCode{ErrDatabaseConnect, ErrSerialPortOpen, ErrConfigLoad, ErrConfigMissing} {
		suite.True(IsCritical(New(code)), "错误码 %d 应该是严重错误", code)
	}
	suite.False(IsCritical(New(ErrSerialTimeout)))
	suite.False(IsCritical(nil))
}

// 测试调用栈捕获
func (suite *ErrorsTestSuite) TestStackCapture() {
	err := New(ErrUnknown)
	suite.Greater(len(err.Stack), 0)
	suite.NotEmpty(err.GetStack())
}

// 测试错误响应
func (suite *ErrorsTestSuite) TestErrorResponse() {
	err := New(ErrNotConnected)
	response := NewErrorResponse(err, "req-123")

	suite.False(response.Success)
	suite.Equal(err, response.Error)
	suite.Equal("req-123", response.RequestID)
	suite.Greater(response.Timestamp, int64(0))
}

// 测试未知错误码
func (suite *ErrorsTestSuite) TestUnknownErrorCode() {
	err := New(ErrorCode(99999))
	suite.Equal(ErrorCode(99999), err.Code)
	suite.Equal("未知错误", err.Message)
}

// 测试硬件相关错误
func (suite *ErrorsTestSuite) TestHardwareErrors() {
	hardwareErrors := map[ErrorCode]string{
		ErrSerialPortOpen:   "串口打开失败",
		ErrSerialPortWrite:  "串口写入失败",
		ErrSerialPortRead:   "串口读取失败",
		ErrSerialTimeout:    "手控器应答超时",
		ErrNotConnected:     "手控器未连接",
		ErrConnectionClosed: "连接已关闭",
		ErrPassthrough:      "子设备无应答",
		ErrProtocol:         "无效的手控器应答",
		ErrFraming:          "应答帧格式错误",
	}

	for code, expectedMsg := range hardwareErrors {
		suite.Equal(expectedMsg, New(code).Message)
	}
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
