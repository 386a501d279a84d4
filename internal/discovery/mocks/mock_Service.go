// Package mocks provides test doubles for the discovery service.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	discovery "github.com/sells-group/fundscout/internal/discovery"
	model "github.com/sells-group/fundscout/internal/model"
)

// MockService is a mock type for the Service interface.
type MockService struct {
	mock.Mock
}

// Discover provides a mock function with given fields: ctx, req
func (_m *MockService) Discover(ctx context.Context, req discovery.Request) ([]model.Fund, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Discover")
	}

	var r0 []model.Fund
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, discovery.Request) ([]model.Fund, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, discovery.Request) []model.Fund); ok {
		r0 = rf(ctx, req)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.Fund)
	}

	if rf, ok := ret.Get(1).(func(context.Context, discovery.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Analyze provides a mock function with given fields: ctx, name, url
func (_m *MockService) Analyze(ctx context.Context, name string, url string) (*model.ApplicationAnalysis, error) {
	ret := _m.Called(ctx, name, url)

	if len(ret) == 0 {
		panic("no return value specified for Analyze")
	}

	var r0 *model.ApplicationAnalysis
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) (*model.ApplicationAnalysis, error)); ok {
		return rf(ctx, name, url)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string) *model.ApplicationAnalysis); ok {
		r0 = rf(ctx, name, url)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.ApplicationAnalysis)
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, name, url)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Demo provides a mock function with given fields:
func (_m *MockService) Demo() []model.Fund {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Demo")
	}

	var r0 []model.Fund
	if rf, ok := ret.Get(0).(func() []model.Fund); ok {
		r0 = rf()
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.Fund)
	}

	return r0
}

// NewMockService creates a new instance of MockService. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockService {
	m := &MockService{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
